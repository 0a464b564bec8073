package router

import (
	"fmt"
	"log/slog"
	"os"

	"missionctl/internal/domain"
	"missionctl/internal/ingest"

	"gopkg.in/yaml.v3"
)

// Rules is the routing policy: which destinations a newly created message
// fans out to. It is pure data plus a pure Decide, so the table can be
// tested without any trigger plumbing.
type Rules struct {
	// MentionToken summons the inline responder.
	MentionToken string `yaml:"mentionToken"`
	// OperatorAliases are sender names whose web messages are not echoed to
	// Telegram when no explicit forward flag was set. Case-sensitive.
	OperatorAliases []string `yaml:"operatorAliases"`
}

// DefaultRules mirrors the fixed operator allow-list the dashboard grew up
// with.
func DefaultRules() Rules {
	return Rules{
		MentionToken:    ingest.DefaultMentionToken,
		OperatorAliases: []string{"Casey", "Commander", "User", "user"},
	}
}

// LoadRules overlays a YAML policy file onto the defaults. A missing file is
// not an error; a malformed one is.
func LoadRules(path string, logger *slog.Logger) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("rules file does not exist, using defaults", "path", path)
		return rules, nil
	}
	if err != nil {
		return rules, fmt.Errorf("read rules file: %w", err)
	}

	var overlay Rules
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return rules, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if overlay.MentionToken != "" {
		rules.MentionToken = overlay.MentionToken
	}
	if overlay.OperatorAliases != nil {
		rules.OperatorAliases = overlay.OperatorAliases
	}

	logger.Info("routing rules loaded", "path", path,
		"mention_token", rules.MentionToken, "aliases", len(rules.OperatorAliases))
	return rules, nil
}

func (r Rules) isOperator(sender string) bool {
	for _, alias := range r.OperatorAliases {
		if sender == alias {
			return true
		}
	}
	return false
}

// Decide evaluates the rules table for one message and returns its fan-out
// destinations, in evaluation order.
//
// Agent messages forward at most; they never queue work or summon the
// responder, whatever their flags say. That single early return is what
// keeps replies from feeding back into the pipeline forever.
func (r Rules) Decide(msg domain.Message) []domain.Destination {
	if msg.SenderType == domain.SenderAgent {
		if msg.Routing.ForwardToTelegram {
			return []domain.Destination{domain.DestTelegram}
		}
		return nil
	}

	// Defensive short-circuit against duplicate trigger delivery.
	if msg.State.Processing || msg.State.HandledByFred {
		return nil
	}

	var dests []domain.Destination

	forward := msg.Routing.ForwardToTelegram
	if !msg.Routing.ForwardSet && msg.Source == domain.ChannelWeb {
		// Legacy records carry no flag: forward unless the sender is one of
		// the operator aliases, which would echo their own words back.
		forward = !r.isOperator(msg.Sender)
	}
	if forward {
		dests = append(dests, domain.DestTelegram)
	}

	if msg.Routing.ForAntigravity || ingest.ContainsMention(msg.Text, r.MentionToken) {
		dests = append(dests, domain.DestInlineAI)
	}

	if msg.Routing.NeedsFredReply {
		dests = append(dests, domain.DestQueuedReply)
	}

	return dests
}
