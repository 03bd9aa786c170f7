package hidpp_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmouse/openmouse/hidpp"
)

func fetchPages(pages map[uint8][]byte) func(uint8) ([]byte, error) {
	return func(page uint8) ([]byte, error) {
		data, ok := pages[page]
		if !ok {
			return nil, fmt.Errorf("no page 0x%02x", page)
		}
		return data, nil
	}
}

func TestEncodeMacroDropsLeadingDelay(t *testing.T) {
	code, err := hidpp.EncodeMacro([]hidpp.MacroEvent{
		{Op: hidpp.MacroOpDelay, DelayMS: 100},
		{Op: hidpp.MacroOpKeyPress, Key: 0x04},
		{Op: hidpp.MacroOpDelay, DelayMS: 50},
		{Op: hidpp.MacroOpKeyRelease, Key: 0x04},
	})
	require.NoError(t, err)
	want := []byte{
		hidpp.MacroOpKeyPress, 0x00, 0x04,
		hidpp.MacroOpDelay, 0x00, 0x32,
		hidpp.MacroOpKeyRelease, 0x00, 0x04,
		hidpp.MacroOpEnd,
	}
	assert.Equal(t, want, code)
}

func TestEncodeMacroRejectsUnknownOpcode(t *testing.T) {
	_, err := hidpp.EncodeMacro([]hidpp.MacroEvent{{Op: 0x99}})
	require.Error(t, err)
	var ve *hidpp.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestMacroRoundTrip(t *testing.T) {
	events := []hidpp.MacroEvent{
		{Op: hidpp.MacroOpKeyPress, Modifiers: 0x02, Key: 0x04},
		{Op: hidpp.MacroOpDelay, DelayMS: 1000},
		{Op: hidpp.MacroOpKeyRelease, Modifiers: 0x02, Key: 0x04},
	}
	code, err := hidpp.EncodeMacro(events)
	require.NoError(t, err)

	got, err := hidpp.DecodeMacro(3, 0, fetchPages(map[uint8][]byte{3: code}))
	require.NoError(t, err)
	assert.Equal(t, events, got)
}

func TestDecodeMacroFollowsJumps(t *testing.T) {
	page3 := []byte{
		hidpp.MacroOpKeyPress, 0x00, 0x05,
		hidpp.MacroOpJump, 0x04, 0x02,
	}
	page4 := []byte{
		0x00, 0x00, // skipped over by the jump target
		hidpp.MacroOpKeyRelease, 0x00, 0x05,
		hidpp.MacroOpEnd,
	}
	got, err := hidpp.DecodeMacro(3, 0, fetchPages(map[uint8][]byte{3: page3, 4: page4}))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint8(hidpp.MacroOpKeyPress), got[0].Op)
	assert.Equal(t, uint8(hidpp.MacroOpKeyRelease), got[1].Op)
}

func TestDecodeMacroCapsJumpLoops(t *testing.T) {
	// A page that jumps to its own start would decode forever.
	page := []byte{
		hidpp.MacroOpKeyPress, 0x00, 0x04,
		hidpp.MacroOpJump, 0x03, 0x00,
	}
	_, err := hidpp.DecodeMacro(3, 0, fetchPages(map[uint8][]byte{3: page}))
	require.Error(t, err)
	assert.ErrorIs(t, err, hidpp.ErrMalformedReply)
}

func TestDecodeMacroRejectsTruncation(t *testing.T) {
	tests := []struct {
		name string
		page []byte
	}{
		{"runs off the end", []byte{hidpp.MacroOpKeyPress, 0x00, 0x04}},
		{"truncated delay", []byte{hidpp.MacroOpDelay, 0x01}},
		{"unknown opcode", []byte{0x77, hidpp.MacroOpEnd}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := hidpp.DecodeMacro(0, 0, fetchPages(map[uint8][]byte{0: tt.page}))
			require.Error(t, err)
			assert.ErrorIs(t, err, hidpp.ErrMalformedReply)
		})
	}
}
