package integrate

import (
	"strings"
	"sync/atomic"

	"github.com/zen-systems/dualtrack/pkg/config"
	"github.com/zen-systems/dualtrack/pkg/router"
	"github.com/zen-systems/dualtrack/pkg/track"
)

// FallbackText is the degraded response when every track failed.
const FallbackText = "I'm sorry, I couldn't come up with an answer just now. Please try asking again."

// Strategy names how a response was assembled.
type Strategy string

const (
	StrategyPassthrough Strategy = "passthrough"
	StrategyPreference  Strategy = "preference"
	StrategySmooth      Strategy = "smooth"
	StrategyAbrupt      Strategy = "abrupt"
	StrategyFallback    Strategy = "fallback"
)

// Response is the terminal artifact of a query.
type Response struct {
	Text     string       `json:"text"`
	Sources  []track.Kind `json:"sources"`
	Strategy Strategy     `json:"strategy"`
	Partial  bool         `json:"partial"`
	Degraded bool         `json:"degraded"`
}

// Integrator merges completed and partial track results into one final
// response. It never returns an error to the caller; the worst case is a
// degraded fallback.
type Integrator struct {
	cfg     config.IntegrationConfig
	scorer  Scorer
	connIdx atomic.Uint32
}

// New creates an integrator. A nil scorer defaults to lexical cosine.
func New(cfg config.IntegrationConfig, scorer Scorer) *Integrator {
	if scorer == nil {
		scorer = LexicalScorer{}
	}
	return &Integrator{cfg: cfg, scorer: scorer}
}

// Integrate produces the final response for the results of one query.
func (it *Integrator) Integrate(results []track.Result, path router.Path) Response {
	usable := make([]track.Result, 0, len(results))
	for _, r := range results {
		if r.Success || (r.Partial && r.Text != "") {
			usable = append(usable, r)
		}
	}

	if len(usable) == 0 {
		return Response{
			Text:     FallbackText,
			Strategy: StrategyFallback,
			Degraded: true,
		}
	}

	if path != router.PathParallel || len(usable) == 1 {
		r := usable[0]
		// A dropped companion only narrows a parallel answer; on single
		// paths the surviving text stands on its own (failover included).
		droppedCompanion := path == router.PathParallel && len(results) > len(usable)
		return Response{
			Text:     r.Text,
			Sources:  []track.Kind{r.Source},
			Strategy: StrategyPassthrough,
			Partial:  r.Partial || droppedCompanion,
		}
	}

	local, remote := splitResults(usable)
	if local == nil || remote == nil {
		r := usable[0]
		return Response{
			Text:     r.Text,
			Sources:  []track.Kind{r.Source},
			Strategy: StrategyPassthrough,
			Partial:  true,
		}
	}

	return it.merge(*local, *remote)
}

// merge resolves two divergent parallel results into one text.
func (it *Integrator) merge(local, remote track.Result) Response {
	partial := local.Partial || remote.Partial
	sources := []track.Kind{track.KindLocal, track.KindRemote}

	if it.cfg.Strategy == "preference" {
		// Preference mode trusts the higher-quality remote result outright.
		return Response{
			Text:     remote.Text,
			Sources:  []track.Kind{track.KindRemote},
			Strategy: StrategyPreference,
			Partial:  remote.Partial,
		}
	}

	similarity := it.scorer.Similarity(local.Text, remote.Text)
	if similarity >= it.cfg.SimilarityThreshold {
		// Near-duplicates: keep the more detailed text only when it is
		// meaningfully longer, else stay with the first-arriving local.
		longer, shorter := local, remote
		if len(remote.Text) > len(local.Text) {
			longer, shorter = remote, local
		}
		picked := local
		if shorter.Text != "" && float64(len(longer.Text))/float64(len(shorter.Text)) > 1.2 {
			picked = longer
		}
		return Response{
			Text:     picked.Text,
			Sources:  []track.Kind{picked.Source},
			Strategy: StrategyPassthrough,
			Partial:  picked.Partial,
		}
	}

	if it.cfg.Strategy == "interrupt" {
		return Response{
			Text:     it.abrupt(local.Text, remote.Text),
			Sources:  sources,
			Strategy: StrategyAbrupt,
			Partial:  partial,
		}
	}

	return Response{
		Text:     it.smooth(local.Text, remote.Text),
		Sources:  sources,
		Strategy: StrategySmooth,
		Partial:  partial,
	}
}

// smooth joins the two texts with a rotating connective phrase so
// repeated merges don't read identically.
func (it *Integrator) smooth(localText, remoteText string) string {
	connectives := it.cfg.Connectives
	if len(connectives) == 0 {
		return localText + " " + remoteText
	}
	idx := int(it.connIdx.Add(1)-1) % len(connectives)
	return localText + " " + connectives[idx] + " " + remoteText
}

// abrupt cuts the provisional local text short and pivots to the remote
// answer mid-sentence.
func (it *Integrator) abrupt(localText, remoteText string) string {
	limit := it.cfg.AbruptTruncateChars
	if limit > 0 && len(localText) > limit {
		localText = strings.TrimRight(localText[:limit], " ")
	}
	return localText + "... Actually, " + remoteText
}

func splitResults(results []track.Result) (local, remote *track.Result) {
	for i := range results {
		switch results[i].Source {
		case track.KindLocal:
			local = &results[i]
		case track.KindRemote:
			remote = &results[i]
		}
	}
	return local, remote
}
