package flags

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.Len(t, d, 15)
	for _, n := range All {
		v, ok := d[n]
		assert.True(t, ok, "missing %s", n)
		assert.False(t, v, "flag %s should be off", n)
	}
	assert.Empty(t, d.Active())
}

func TestGroups(t *testing.T) {
	seen := map[Name]bool{}
	titles := []string{}
	for _, g := range Groups {
		titles = append(titles, g.Title)
		for _, f := range g.Flags {
			assert.False(t, seen[f.Name], "flag %s in two groups", f.Name)
			seen[f.Name] = true
			assert.NotEmpty(t, f.Label)
			assert.NotEmpty(t, f.Description)
		}
	}
	assert.Equal(t, []string{"Loading", "Network weight", "Interactivity", "Search responsiveness", "Visual stability"}, titles)
	assert.Len(t, seen, len(All))
}

func TestParseName(t *testing.T) {
	n, err := ParseName("useWorker")
	require.NoError(t, err)
	assert.Equal(t, UseWorker, n)

	_, err = ParseName("useworker")
	require.Error(t, err)
	_, err = ParseName("")
	require.Error(t, err)
}

func TestMerge(t *testing.T) {
	tbl := []struct {
		name    string
		data    string
		active  []Name
		wantErr bool
	}{
		{name: "empty object", data: `{}`, active: []Name{}},
		{name: "single flag", data: `{"debounce":true}`, active: []Name{Debounce}},
		{name: "canonical order", data: `{"microYield":true,"heroPreload":true}`, active: []Name{HeroPreload, MicroYield}},
		{name: "unknown keys ignored", data: `{"bogus":true,"lazyOff":true}`, active: []Name{LazyOff}},
		{name: "non-boolean ignored", data: `{"lazyOff":"yes","useWorker":1,"debounce":true}`, active: []Name{Debounce}},
		{name: "explicit false", data: `{"debounce":false}`, active: []Name{}},
		{name: "malformed", data: `{"debounce":tru`, active: []Name{}, wantErr: true},
		{name: "not an object", data: `[1,2]`, active: []Name{}, wantErr: true},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Merge(tt.data)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, res, len(All))
			assert.Equal(t, tt.active, res.Active())
		})
	}
}

func TestFlagSet_Encode(t *testing.T) {
	fs := Defaults()
	fs[UseWorker] = true
	fs[Name("junk")] = true

	var decoded map[string]bool
	require.NoError(t, json.Unmarshal([]byte(fs.Encode()), &decoded))
	assert.Len(t, decoded, len(All))
	assert.True(t, decoded["useWorker"])
	assert.False(t, decoded["debounce"])
	_, ok := decoded["junk"]
	assert.False(t, ok)

	back, err := Merge(fs.Encode())
	require.NoError(t, err)
	assert.Equal(t, []Name{UseWorker}, back.Active())
}

func TestFlagSet_Clone(t *testing.T) {
	fs := Defaults()
	c := fs.Clone()
	c[Debounce] = true
	assert.False(t, fs[Debounce])
	assert.True(t, c[Debounce])
}
