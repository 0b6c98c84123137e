package app

import (
	"fmt"
	"net"
	"time"
)

// WaitTCP polls addr until something accepts a connection.
func WaitTCP(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = c.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for %s", addr)
}

func logBanner(baseDir, cfgPath string) {
	log.Info("────────────────────────────────────────")
	log.Info("Voyage server")
	log.Infof(" Base folder : %s", baseDir)
	log.Infof(" Config file : %s", cfgPath)
	log.Info("")
	log.Info(" Relative paths in the config (catalog,")
	log.Info(" agent scripts) resolve against the base.")
	log.Info("────────────────────────────────────────")
}
