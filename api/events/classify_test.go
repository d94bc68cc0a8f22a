package events

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		key      any
		wantOK   bool
		category string
		action   string
	}{
		{name: "wireless user connected", key: "EVT_WU_Connected", wantOK: true, category: "wu", action: "connected"},
		{name: "access point restarted", key: "EVT_AP_RestartedUnknown", wantOK: true, category: "ap", action: "restartedunknown"},
		{name: "action with underscores", key: "EVT_SW_Lost_Contact", wantOK: true, category: "sw", action: "lost_contact"},
		{name: "single character action", key: "EVT_GW_X", wantOK: true, category: "gw", action: "x"},
		{name: "empty action", key: "EVT_WU_", wantOK: false},
		{name: "lower-case group", key: "EVT_wu_Connected", wantOK: false},
		{name: "three letter group", key: "EVT_WUX_Connected", wantOK: false},
		{name: "one letter group", key: "EVT_W_Connected", wantOK: false},
		{name: "digit in group", key: "EVT_W1_Connected", wantOK: false},
		{name: "missing prefix", key: "WU_Connected", wantOK: false},
		{name: "alarm key", key: "alarm.ips", wantOK: false},
		{name: "empty key", key: "", wantOK: false},
		{name: "non-string key", key: 42, wantOK: false},
		{name: "missing key", key: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw := RawEvent{"hostname": "phone1"}
			if tt.key != nil {
				raw["key"] = tt.key
			}

			got, ok := Classify(raw)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}

			assert.Equal(t, tt.category, got.Category)
			assert.Equal(t, tt.action, got.Action)
			assert.Equal(t, tt.category+"."+tt.action, got.Name())
			assert.Equal(t, "phone1", got.Raw.String("hostname"))
		})
	}
}

// Every key built from two upper-case letters and a non-empty remainder
// classifies to their lower-cased parts.
func TestClassifyGeneratedKeys(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_"

	for range 1000 {
		group := string([]byte{byte('A' + rng.IntN(26)), byte('A' + rng.IntN(26))})

		n := 1 + rng.IntN(20)
		var rest strings.Builder
		for range n {
			rest.WriteByte(alphabet[rng.IntN(len(alphabet))])
		}

		key := "EVT_" + group + "_" + rest.String()
		got, ok := Classify(RawEvent{"key": key})

		require.True(t, ok, key)
		assert.Equal(t, strings.ToLower(group), got.Category, key)
		assert.Equal(t, strings.ToLower(rest.String()), got.Action, key)
	}
}

func TestClassifyRejectsNonMatchingKeys(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 4))
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789_-."

	for range 1000 {
		n := rng.IntN(24)
		var key strings.Builder
		for range n {
			key.WriteByte(alphabet[rng.IntN(len(alphabet))])
		}

		_, ok := Classify(RawEvent{"key": key.String()})
		assert.False(t, ok, key.String())
	}
}

func TestAliases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key   string
		alias string
		name  string
	}{
		{key: "EVT_WU_Connected", alias: NameConnected, name: "wu.connected"},
		{key: "EVT_WG_Connected", alias: NameConnected, name: "wg.connected"},
		{key: "EVT_LU_Connected", alias: NameConnected, name: "lu.connected"},
		{key: "EVT_LG_Connected", alias: NameConnected, name: "lg.connected"},
		{key: "EVT_WU_Disconnected", alias: NameDisconnected, name: "wu.disconnected"},
		{key: "EVT_WG_Disconnected", alias: NameDisconnected, name: "wg.disconnected"},
		{key: "EVT_LU_Disconnected", alias: NameDisconnected, name: "lu.disconnected"},
		{key: "EVT_LG_Disconnected", alias: NameDisconnected, name: "lg.disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()

			names := dispatchNames(RawEvent{"key": tt.key})
			assert.Equal(t, []string{tt.name, tt.alias, NameEvent}, names)
		})
	}
}

func TestDispatchNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  RawEvent
		want []string
	}{
		{name: "classified without alias", raw: RawEvent{"key": "EVT_AP_Upgraded"}, want: []string{"ap.upgraded", NameEvent}},
		{name: "roam is not an alias", raw: RawEvent{"key": "EVT_WU_Roam"}, want: []string{"wu.roam", NameEvent}},
		{name: "keyed but unmatched", raw: RawEvent{"key": "alarm.ips"}, want: []string{NameUnclassified}},
		{name: "no key", raw: RawEvent{"msg": "hello"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, dispatchNames(tt.raw))
		})
	}
}
