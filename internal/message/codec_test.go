package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWireShapes(t *testing.T) {
	t.Run("system without role", func(t *testing.T) {
		b, err := Encode(System("hello"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"system","content":"hello"}`, string(b))
	})

	t.Run("ai with role", func(t *testing.T) {
		b, err := Encode(AI("Outfitter", "take rope"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"ai","role":"Outfitter","content":"take rope"}`, string(b))
	})

	t.Run("role status", func(t *testing.T) {
		b, err := Encode(RoleStatus{Data: map[string]bool{"captain": true, "specialist": false}})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"role_status","data":{"captain":true,"specialist":false}}`, string(b))
	})

	t.Run("status frame never has content", func(t *testing.T) {
		b, err := Encode(RoleStatus{})
		require.NoError(t, err)
		var raw map[string]any
		require.NoError(t, json.Unmarshal(b, &raw))
		assert.NotContains(t, raw, "content")
		assert.Equal(t, map[string]any{}, raw["data"])
	})

	t.Run("bad content type", func(t *testing.T) {
		_, err := Encode(Content{Type: TypeRoleStatus, Content: "x"})
		assert.ErrorIs(t, err, ErrUnknownType)
	})
}

func TestDecode(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    Message
		wantErr bool
	}{
		{"human", `{"type":"human","role":"captain","content":"status?"}`, Human("captain", "status?"), false},
		{"system", `{"type":"system","content":"joined"}`, System("joined"), false},
		{"status", `{"type":"role_status","data":{"captain":true}}`, RoleStatus{Data: map[string]bool{"captain": true}}, false},
		{"status with content", `{"type":"role_status","data":{},"content":"x"}`, nil, true},
		{"status without data", `{"type":"role_status"}`, nil, true},
		{"ai without content", `{"type":"ai","role":"Outfitter"}`, nil, true},
		{"unknown type", `{"type":"whisper","content":"x"}`, nil, true},
		{"not json", `{{`, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.in))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeOutbound(t *testing.T) {
	out, err := DecodeOutbound([]byte(`{"content":"  status? ","role":"captain","context":{"voyageType":"space","inventory":"rope"}}`))
	require.NoError(t, err)
	assert.Equal(t, "status?", out.Content)
	require.NotNil(t, out.Context)
	assert.Equal(t, "space", out.Context.VoyageType)

	_, err = DecodeOutbound([]byte(`{"content":"   "}`))
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = DecodeOutbound([]byte(`nope`))
	assert.Error(t, err)
}
