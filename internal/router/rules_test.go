package router

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"missionctl/internal/domain"
)

func TestDecide(t *testing.T) {
	rules := DefaultRules()

	human := func(sender, source, text string, routing domain.Routing) domain.Message {
		return domain.Message{
			Text:       text,
			Sender:     sender,
			SenderType: domain.SenderHuman,
			Source:     source,
			Channel:    source,
			Routing:    routing,
		}
	}

	cases := []struct {
		name string
		msg  domain.Message
		want []domain.Destination
	}{
		{
			name: "web message with explicit flags",
			msg: human("Alice", domain.ChannelWeb, "hello", domain.Routing{
				NeedsFredReply: true, ForwardToTelegram: true, ForwardSet: true,
			}),
			want: []domain.Destination{domain.DestTelegram, domain.DestQueuedReply},
		},
		{
			name: "web message with forwarding off",
			msg: human("Alice", domain.ChannelWeb, "hello", domain.Routing{
				NeedsFredReply: true, ForwardToTelegram: false, ForwardSet: true,
			}),
			want: []domain.Destination{domain.DestQueuedReply},
		},
		{
			name: "legacy web message from stranger forwards by default",
			msg:  human("Alice", domain.ChannelWeb, "hello", domain.Routing{}),
			want: []domain.Destination{domain.DestTelegram},
		},
		{
			name: "legacy web message from operator is not echoed",
			msg:  human("Casey", domain.ChannelWeb, "hello", domain.Routing{}),
			want: nil,
		},
		{
			name: "legacy lowercase operator alias",
			msg:  human("user", domain.ChannelWeb, "hello", domain.Routing{}),
			want: nil,
		},
		{
			name: "operator alias match is case sensitive",
			msg:  human("CASEY", domain.ChannelWeb, "hello", domain.Routing{}),
			want: []domain.Destination{domain.DestTelegram},
		},
		{
			name: "legacy default never applies to telegram source",
			msg:  human("Alice", domain.ChannelTelegram, "hello", domain.Routing{}),
			want: nil,
		},
		{
			name: "mention flag summons inline responder",
			msg: human("Casey", domain.ChannelWeb, "check this", domain.Routing{
				ForwardSet: true, ForAntigravity: true,
			}),
			want: []domain.Destination{domain.DestInlineAI},
		},
		{
			name: "mention token in text summons inline responder",
			msg: human("Casey", domain.ChannelWeb, "hey @Antigravity what do you think", domain.Routing{
				ForwardSet: true,
			}),
			want: []domain.Destination{domain.DestInlineAI},
		},
		{
			name: "mention and reply can both fire",
			msg: human("Casey", domain.ChannelTelegram, "@antigravity status", domain.Routing{
				NeedsFredReply: true, ForwardSet: true,
			}),
			want: []domain.Destination{domain.DestInlineAI, domain.DestQueuedReply},
		},
		{
			name: "agent forward-only",
			msg: domain.Message{
				Text:       "reply text",
				Sender:     "Fred",
				SenderType: domain.SenderAgent,
				Source:     domain.SourceFred,
				Routing: domain.Routing{
					NeedsFredReply: true, ForwardToTelegram: true, ForwardSet: true, ForAntigravity: true,
				},
			},
			want: []domain.Destination{domain.DestTelegram},
		},
		{
			name: "agent without forward goes nowhere",
			msg: domain.Message{
				Text:       "@antigravity reply mentioning the token",
				Sender:     "Antigravity",
				SenderType: domain.SenderAgent,
				Source:     domain.SourceSystem,
				Routing:    domain.Routing{ForwardSet: true},
			},
			want: nil,
		},
		{
			name: "already processing is skipped",
			msg: func() domain.Message {
				m := human("Alice", domain.ChannelWeb, "hello", domain.Routing{NeedsFredReply: true, ForwardSet: true})
				m.State.Processing = true
				return m
			}(),
			want: nil,
		},
		{
			name: "already handled is skipped",
			msg: func() domain.Message {
				m := human("Alice", domain.ChannelWeb, "hello", domain.Routing{NeedsFredReply: true, ForwardSet: true})
				m.State.HandledByFred = true
				return m
			}(),
			want: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := rules.Decide(tc.msg)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Decide() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLoadRulesMissingFileUsesDefaults(t *testing.T) {
	rules, err := LoadRules(filepath.Join(t.TempDir(), "nope.yaml"), testLogger())
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if !reflect.DeepEqual(rules, DefaultRules()) {
		t.Errorf("rules = %+v, want defaults", rules)
	}
}

func TestLoadRulesOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := "mentionToken: \"@copilot\"\noperatorAliases:\n  - Dana\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rules, err := LoadRules(path, testLogger())
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if rules.MentionToken != "@copilot" {
		t.Errorf("mentionToken = %q, want @copilot", rules.MentionToken)
	}
	if !reflect.DeepEqual(rules.OperatorAliases, []string{"Dana"}) {
		t.Errorf("aliases = %v, want [Dana]", rules.OperatorAliases)
	}
}

func TestLoadRulesMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("mentionToken: [nope"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if _, err := LoadRules(path, testLogger()); err == nil {
		t.Fatal("expected parse error")
	}
}
