package ratelimit

import (
	"encoding/json"
	"net/http"

	"admission-gateway/middleware/ratelimit/application"
)

type policyStatusView struct {
	Policy        string  `json:"policy"`
	Algorithm     string  `json:"algorithm"`
	Extractor     string  `json:"extractor"`
	FailurePolicy string  `json:"failure_policy"`
	Limit         int64   `json:"limit"`
	Window        float64 `json:"window_seconds"`
	// -1 quando desconhecido
	Remaining   int  `json:"remaining"`
	WouldAdmit  bool `json:"would_admit"`
	RetryAfter  int  `json:"retry_after_seconds,omitempty"`
	Skipped     bool `json:"skipped,omitempty"`
	Unavailable bool `json:"unavailable,omitempty"`
}

type statusView struct {
	Address  string             `json:"address,omitempty"`
	Identity bool               `json:"authenticated"`
	Policies []policyStatusView `json:"policies"`
}

// StatusHandler responde com o estado de cada policy para o chamador,
// sem cobrar nada.
func StatusHandler(g *application.Gateway, b DescriptorBuilder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := b.Build(r)
		out := statusView{Address: req.Address, Identity: req.Identity != ""}

		for _, st := range g.Status(r.Context(), req) {
			v := policyStatusView{
				Policy:        st.Info.Name,
				Algorithm:     st.Info.Algorithm.String(),
				Extractor:     string(st.Info.Extractor),
				FailurePolicy: st.Info.FailurePolicy.String(),
				Limit:         st.Info.Quota,
				Window:        st.Info.Window.Seconds(),
				Remaining:     st.Remaining,
				WouldAdmit:    st.WouldAdmit,
				Skipped:       st.Skipped,
				Unavailable:   st.Unavailable,
			}
			if !st.WouldAdmit && st.RetryAfter > 0 {
				v.RetryAfter = retryAfterSeconds(st.RetryAfter)
			}
			out.Policies = append(out.Policies, v)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(out)
	})
}
