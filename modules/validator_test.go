package modules

import (
	"testing"

	. "github.com/franela/goblin"

	"github.com/priyxstudio/curator/config"
)

func enabledModule(name string) config.ModuleConfig {
	return config.ModuleConfig{
		Name:         name,
		Enabled:      true,
		RateLimit:    2,
		RateInterval: "1s",
		Fields:       map[string]string{},
	}
}

func TestValidate(t *testing.T) {
	g := Goblin(t)

	g.Describe("Validate", func() {
		g.It("accepts a minimal enabled module", func() {
			out := Validate(enabledModule("anilist"))
			g.Assert(out.Valid).IsTrue()
			g.Assert(out.Reason).Equal("")
		})

		g.It("reports disabled modules with a distinct reason", func() {
			cfg := enabledModule("anilist")
			cfg.Enabled = false
			out := Validate(cfg)
			g.Assert(out.Valid).IsFalse()
			g.Assert(out.Reason).Equal("module disabled")
		})

		g.It("reports a missing api key by module name", func() {
			cfg := enabledModule("mal")
			cfg.RequiredFields = []string{"api_key"}
			out := Validate(cfg)
			g.Assert(out.Valid).IsFalse()
			g.Assert(out.Reason).Equal("missing required API key for module: mal")
		})

		g.It("treats an empty required field the same as an absent one", func() {
			cfg := enabledModule("mal")
			cfg.RequiredFields = []string{"api_key"}
			cfg.Fields["api_key"] = ""
			out := Validate(cfg)
			g.Assert(out.Valid).IsFalse()
			g.Assert(out.Reason).Equal("missing required API key for module: mal")
		})

		g.It("accepts a module once its required fields are provided", func() {
			cfg := enabledModule("mal")
			cfg.RequiredFields = []string{"api_key"}
			cfg.Fields["api_key"] = "secret"
			g.Assert(Validate(cfg).Valid).IsTrue()
		})

		g.It("names non api_key fields in the reason", func() {
			cfg := enabledModule("local")
			cfg.RequiredFields = []string{"path"}
			out := Validate(cfg)
			g.Assert(out.Valid).IsFalse()
			g.Assert(out.Reason).Equal(`missing required field "path" for module: local`)
		})

		g.It("reports only the first unmet prerequisite", func() {
			cfg := enabledModule("mal")
			cfg.RequiredFields = []string{"api_key", "endpoint"}
			out := Validate(cfg)
			g.Assert(out.Reason).Equal("missing required API key for module: mal")
		})

		g.It("checks disabled before required fields", func() {
			cfg := enabledModule("mal")
			cfg.Enabled = false
			cfg.RequiredFields = []string{"api_key"}
			out := Validate(cfg)
			g.Assert(out.Reason).Equal("module disabled")
		})

		g.It("rejects a non-positive rate limit", func() {
			cfg := enabledModule("anilist")
			cfg.RateLimit = 0
			out := Validate(cfg)
			g.Assert(out.Valid).IsFalse()
		})

		g.It("rejects an unparseable rate interval", func() {
			cfg := enabledModule("anilist")
			cfg.RateInterval = "soon"
			out := Validate(cfg)
			g.Assert(out.Valid).IsFalse()
		})

		g.It("rejects an endpoint override that is not a url", func() {
			cfg := enabledModule("anilist")
			cfg.Fields["endpoint"] = "not a url"
			out := Validate(cfg)
			g.Assert(out.Valid).IsFalse()
		})

		g.It("accepts a valid endpoint override", func() {
			cfg := enabledModule("anilist")
			cfg.Fields["endpoint"] = "https://graphql.example.com"
			g.Assert(Validate(cfg).Valid).IsTrue()
		})

		g.It("is deterministic for the same configuration", func() {
			cfg := enabledModule("mal")
			cfg.RequiredFields = []string{"api_key"}
			first := Validate(cfg)
			second := Validate(cfg)
			g.Assert(first).Equal(second)
		})
	})
}
