// Package flags keeps the set of boolean performance flags. Flags switch known anti-patterns and
// optimizations on and off, the store persists them in a local key-value backend and publishes
// every change to subscribers.
package flags

import (
	"encoding/json"
	"fmt"
)

// StorageKey is the key of the single persisted entry holding all flags
const StorageKey = "hypercart-flags"

// Name of a performance flag
type Name string

// enumeration of all supported flags, declaration order is the canonical order
const (
	HeroPreload           Name = "heroPreload"
	HeroFetchPriorityHigh Name = "heroFetchPriorityHigh"
	FontPreconnect        Name = "fontPreconnect"
	ReserveHeroSpace      Name = "reserveHeroSpace"
	LateBanner            Name = "lateBanner"
	InjectThirdParty      Name = "injectThirdParty"
	LoadExtraCSS          Name = "loadExtraCSS"
	LazyOff               Name = "lazyOff"
	ListenersPassive      Name = "listenersPassive"
	SimulateLongTask      Name = "simulateLongTask"
	UseWorker             Name = "useWorker"
	Debounce              Name = "debounce"
	MicroYield            Name = "microYield"
	MissingSizes          Name = "missingSizes"
	IntrinsicPlaceholders Name = "intrinsicPlaceholders"
)

// All lists every flag name in canonical order
var All = []Name{
	HeroPreload, HeroFetchPriorityHigh, FontPreconnect, ReserveHeroSpace, LateBanner,
	InjectThirdParty, LoadExtraCSS, LazyOff,
	ListenersPassive, SimulateLongTask, UseWorker,
	Debounce, MicroYield,
	MissingSizes, IntrinsicPlaceholders,
}

// Info describes a flag for the control panel
type Info struct {
	Name        Name
	Label       string
	Description string
}

// Group is a named category of flags
type Group struct {
	Title string
	Flags []Info
}

// Groups of flags as shown in the control panel
var Groups = []Group{
	{Title: "Loading", Flags: []Info{
		{Name: HeroPreload, Label: "Hero Preload", Description: "Preload hero image"},
		{Name: HeroFetchPriorityHigh, Label: "Hero Fetch Priority", Description: "High priority fetch"},
		{Name: FontPreconnect, Label: "Font Preconnect", Description: "Preconnect to fonts"},
		{Name: ReserveHeroSpace, Label: "Reserve Hero Space", Description: "Fixed hero dimensions"},
		{Name: LateBanner, Label: "Late Banner", Description: "Banner causes CLS"},
	}},
	{Title: "Network weight", Flags: []Info{
		{Name: InjectThirdParty, Label: "Third Party Script", Description: "Heavy blocking script"},
		{Name: LoadExtraCSS, Label: "Extra CSS", Description: "Unused CSS rules"},
		{Name: LazyOff, Label: "Disable Lazy Loading", Description: "Load all images eagerly"},
	}},
	{Title: "Interactivity", Flags: []Info{
		{Name: ListenersPassive, Label: "Passive Listeners", Description: "Use passive event listeners"},
		{Name: SimulateLongTask, Label: "Simulate Long Task", Description: "Block main thread 120ms"},
		{Name: UseWorker, Label: "Use Worker", Description: "Move work to worker thread"},
	}},
	{Title: "Search responsiveness", Flags: []Info{
		{Name: Debounce, Label: "Debounce Input", Description: "Debounce search input"},
		{Name: MicroYield, Label: "Micro Yield", Description: "Yield between chunks"},
	}},
	{Title: "Visual stability", Flags: []Info{
		{Name: MissingSizes, Label: "Missing Image Sizes", Description: "Images without dimensions"},
		{Name: IntrinsicPlaceholders, Label: "Intrinsic Placeholders", Description: "Use content-visibility"},
	}},
}

// IsValid checks if the name is one of the known flags
func (n Name) IsValid() bool {
	for _, k := range All {
		if k == n {
			return true
		}
	}
	return false
}

// ParseName converts string to a known flag name
func ParseName(s string) (Name, error) {
	n := Name(s)
	if !n.IsValid() {
		return "", fmt.Errorf("unknown flag %q", s)
	}
	return n, nil
}

// FlagSet maps every known flag to its value
type FlagSet map[Name]bool

// Defaults returns a set with every flag off
func Defaults() FlagSet {
	res := make(FlagSet, len(All))
	for _, n := range All {
		res[n] = false
	}
	return res
}

// Clone makes an independent copy
func (fs FlagSet) Clone() FlagSet {
	res := make(FlagSet, len(fs))
	for k, v := range fs {
		res[k] = v
	}
	return res
}

// Active returns names of enabled flags in canonical order
func (fs FlagSet) Active() []Name {
	res := []Name{}
	for _, n := range All {
		if fs[n] {
			res = append(res, n)
		}
	}
	return res
}

// Merge decodes persisted json over defaults. Unknown keys and non-boolean values are ignored.
func Merge(data string) (FlagSet, error) {
	res := Defaults()
	var stored map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return res, fmt.Errorf("can't parse stored flags: %w", err)
	}
	for k, raw := range stored {
		n := Name(k)
		if !n.IsValid() {
			continue
		}
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		res[n] = v
	}
	return res, nil
}

// Encode serializes the set to the persisted json form, all known keys included
func (fs FlagSet) Encode() string {
	out := make(map[string]bool, len(All))
	for _, n := range All {
		out[string(n)] = fs[n]
	}
	data, err := json.Marshal(out)
	if err != nil { // map[string]bool never fails to marshal
		return "{}"
	}
	return string(data)
}
