package hidpp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmouse/openmouse/hidpp"
)

func TestBindingRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		binding hidpp.Binding
	}{
		{"disabled", hidpp.Binding{Kind: hidpp.BindDisabled}},
		{"left button", hidpp.Binding{Kind: hidpp.BindMouseButton, Button: 1}},
		{"button 16", hidpp.Binding{Kind: hidpp.BindMouseButton, Button: 16}},
		{"ctrl c", hidpp.Binding{Kind: hidpp.BindKey, Modifiers: 0x01, Key: 0x06}},
		{"volume up", hidpp.Binding{Kind: hidpp.BindConsumer, Consumer: 0x00e9}},
		{"special", hidpp.Binding{Kind: hidpp.BindSpecial, Special: 0x04}},
		{"macro", hidpp.Binding{Kind: hidpp.BindMacro, MacroPage: 7, MacroOffset: 0x40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := tt.binding.Encode()
			require.NoError(t, err)
			got, err := hidpp.DecodeBinding(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.binding, got)
		})
	}
}

func TestBindingEncodeRejectsBadValues(t *testing.T) {
	_, err := hidpp.Binding{Kind: hidpp.BindMouseButton, Button: 0}.Encode()
	require.Error(t, err)
	_, err = hidpp.Binding{Kind: hidpp.BindMouseButton, Button: 17}.Encode()
	require.Error(t, err)
	_, err = hidpp.Binding{Kind: hidpp.BindingKind(99)}.Encode()
	require.Error(t, err)
}

func TestDecodeBindingRejectsUnknownTags(t *testing.T) {
	_, err := hidpp.DecodeBinding([4]byte{0x42, 0, 0, 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, hidpp.ErrMalformedReply)

	_, err = hidpp.DecodeBinding([4]byte{0x80, 0x07, 0, 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, hidpp.ErrMalformedReply)
}

func TestDecodeBindingEmptyMaskIsDisabled(t *testing.T) {
	got, err := hidpp.DecodeBinding([4]byte{0x80, 0x01, 0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, hidpp.BindDisabled, got.Kind)
}
