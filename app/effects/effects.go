// Package effects applies and reverts document side effects of the flags which can't be expressed by
// re-rendering: third-party script injection, extra stylesheet and font preconnect.
// Every apply is idempotent, every revert is a no-op when nothing was applied.
package effects

import (
	"strings"
	"sync"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/hypercart/app/flags"
)

// stable identifiers of injected nodes
const (
	ThirdPartyScriptID  = "third-party-script"
	ThirdPartyScriptSrc = "/thirdparty.js"
	ExtraCSSID          = "extra-css"
	ExtraCSSHref        = "/extra.css"
	FontOrigin          = "https://fonts.gstatic.com"
)

// Effect is a reversible document mutation
type Effect interface {
	Apply(d DOM) bool  // returns true if a node was added
	Revert(d DOM) bool // returns true if something was removed
}

// ThirdPartyScript injects a render-blocking script into head
type ThirdPartyScript struct{}

// Apply adds the script unless already present
func (ThirdPartyScript) Apply(d DOM) bool {
	if d.GetElementByID(ThirdPartyScriptID) != nil {
		return false
	}
	d.AppendHead(&Node{ID: ThirdPartyScriptID, Tag: "script", Attrs: map[string]string{"src": ThirdPartyScriptSrc}})
	return true
}

// Revert removes the script and the banner the script puts on the page
func (ThirdPartyScript) Revert(d DOM) bool {
	removed := d.Remove(d.GetElementByID(ThirdPartyScriptID))
	if banner := d.QueryBody(IsThirdPartyBanner); banner != nil {
		removed = d.Remove(banner) || removed
	}
	return removed
}

// IsThirdPartyBanner matches the fixed top banner created by the third-party script
func IsThirdPartyBanner(n *Node) bool {
	style := n.Attr("style")
	return strings.Contains(style, "position: fixed") && strings.Contains(style, "top: 0") &&
		strings.Contains(n.Text, "Third-Party Script")
}

// ExtraCSS loads a stylesheet full of unused rules
type ExtraCSS struct{}

// Apply adds the stylesheet link unless already present
func (ExtraCSS) Apply(d DOM) bool {
	if d.GetElementByID(ExtraCSSID) != nil {
		return false
	}
	d.AppendHead(&Node{ID: ExtraCSSID, Tag: "link", Attrs: map[string]string{"rel": "stylesheet", "href": ExtraCSSHref}})
	return true
}

// Revert removes the stylesheet link
func (ExtraCSS) Revert(d DOM) bool {
	return d.Remove(d.GetElementByID(ExtraCSSID))
}

// FontPreconnect adds a preconnect hint to the font origin
type FontPreconnect struct{}

func isFontPreconnect(n *Node) bool {
	return n.Tag == "link" && n.Attr("href") == FontOrigin
}

// Apply adds the preconnect link unless a link to the origin exists
func (FontPreconnect) Apply(d DOM) bool {
	if d.QueryHead(isFontPreconnect) != nil {
		return false
	}
	d.AppendHead(&Node{Tag: "link", Attrs: map[string]string{"rel": "preconnect", "href": FontOrigin, "crossorigin": "anonymous"}})
	return true
}

// Revert removes the preconnect link
func (FontPreconnect) Revert(d DOM) bool {
	return d.Remove(d.QueryHead(isFontPreconnect))
}

// Dispatcher maps the side-effect flags to their effects.
// Lookup and mutation of an effect run under one lock, concurrent toggles can't duplicate nodes.
type Dispatcher struct {
	dom     DOM
	effects map[flags.Name]Effect
	mu      sync.Mutex
}

// NewDispatcher makes a dispatcher for the three side-effect flags
func NewDispatcher(dom DOM) *Dispatcher {
	return &Dispatcher{
		dom: dom,
		effects: map[flags.Name]Effect{
			flags.InjectThirdParty: ThirdPartyScript{},
			flags.LoadExtraCSS:     ExtraCSS{},
			flags.FontPreconnect:   FontPreconnect{},
		},
	}
}

// Handles reports whether the flag has a side effect
func (d *Dispatcher) Handles(name flags.Name) bool {
	_, ok := d.effects[name]
	return ok
}

// OnToggle applies or reverts the effect for name. Called directly by the toggle handler.
// Returns false for flags without a side effect.
func (d *Dispatcher) OnToggle(name flags.Name, value bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.toggle(name, value)
}

func (d *Dispatcher) toggle(name flags.Name, value bool) bool {
	eff, ok := d.effects[name]
	if !ok {
		return false
	}
	if value {
		if eff.Apply(d.dom) {
			log.Printf("[DEBUG] applied side effect for %s", name)
		}
		return true
	}
	if eff.Revert(d.dom) {
		log.Printf("[DEBUG] reverted side effect for %s", name)
	}
	return true
}

// Sync brings the document in line with fs, used on startup
func (d *Dispatcher) Sync(fs flags.FlagSet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range flags.All {
		if d.Handles(name) {
			d.toggle(name, fs[name])
		}
	}
}
