package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-github/v68/github"
	slackapi "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/integrate"
)

func sampleReport() *integrate.Report {
	return &integrate.Report{
		SessionID:       "0123456789abcdef",
		ConsensusBucket: integrate.BucketMedium,
		Conflicts:       []integrate.Conflict{{RoleA: "performance", RoleB: "security"}},
		MissingRoles:    []integrate.MissingRole{},
		Synthesis:       "# Integration report\n\n## security\n\nfine",
		Fingerprint:     "abc123",
	}
}

type mockSlack struct {
	calls   int
	channel string
	fail    []error
}

func (m *mockSlack) PostMessageContext(_ context.Context, channelID string, _ ...slackapi.MsgOption) (string, string, error) {
	m.calls++
	m.channel = channelID
	if len(m.fail) > 0 {
		err := m.fail[0]
		m.fail = m.fail[1:]
		return "", "", err
	}
	return channelID, "1700000000.000100", nil
}

type mockDiscord struct {
	channel string
	embed   *discordgo.MessageEmbed
	err     error
}

func (m *mockDiscord) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.channel, m.embed = channelID, embed
	return &discordgo.Message{}, m.err
}

type mockIssues struct {
	owner, repo string
	number      int
	body        string
}

func (m *mockIssues) CreateComment(_ context.Context, owner, repo string, number int, c *github.IssueComment) (*github.IssueComment, *github.Response, error) {
	m.owner, m.repo, m.number, m.body = owner, repo, number, c.GetBody()
	return c, nil, nil
}

type failingSink struct{}

func (failingSink) Name() string                                  { return "broken" }
func (failingSink) Send(context.Context, *integrate.Report) error { return errors.New("down") }

func TestFormat(t *testing.T) {
	r := sampleReport()
	assert.Equal(t, ColorWarning, Color(r))
	assert.Equal(t, "Session 01234567 integrated: medium consensus, 1 conflict(s), 0 missing role(s)", Title(r))

	r.Conflicts = nil
	r.ConsensusBucket = integrate.BucketHigh
	assert.Equal(t, ColorSuccess, Color(r))

	r.Degraded = true
	assert.Equal(t, ColorError, Color(r))
	assert.Contains(t, Title(r), "no role reported")

	assert.Equal(t, 0x36a64f, colorInt(ColorSuccess))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 100))
	long := strings.Repeat("é", 100)
	got := truncate(long, 50)
	assert.LessOrEqual(t, len(got), 50)
	assert.True(t, strings.HasSuffix(got, "…(truncated)"))
	assert.True(t, strings.HasPrefix(got, "é"))
}

func TestSlackSend(t *testing.T) {
	m := &mockSlack{}
	s := &Slack{client: m, channel: "C123"}
	require.NoError(t, s.Send(context.Background(), sampleReport()))
	assert.Equal(t, 1, m.calls)
	assert.Equal(t, "C123", m.channel)
}

func TestSlackSend_RetriesRateLimit(t *testing.T) {
	m := &mockSlack{fail: []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}}
	s := &Slack{client: m, channel: "C123"}
	require.NoError(t, s.Send(context.Background(), sampleReport()))
	assert.Equal(t, 2, m.calls)
}

func TestSlackSend_OtherErrorsNotRetried(t *testing.T) {
	m := &mockSlack{fail: []error{errors.New("channel_not_found")}}
	s := &Slack{client: m, channel: "C123"}
	assert.Error(t, s.Send(context.Background(), sampleReport()))
	assert.Equal(t, 1, m.calls)
}

func TestDiscordSend(t *testing.T) {
	m := &mockDiscord{}
	d := &Discord{sess: m, channel: "987"}
	require.NoError(t, d.Send(context.Background(), sampleReport()))
	assert.Equal(t, "987", m.channel)
	require.NotNil(t, m.embed)
	assert.Equal(t, colorInt(ColorWarning), m.embed.Color)
	assert.Len(t, m.embed.Fields, 3)
}

func TestGitHubSend(t *testing.T) {
	m := &mockIssues{}
	g := &GitHub{issues: m, owner: "acme", repo: "api", number: 42}
	require.NoError(t, g.Send(context.Background(), sampleReport()))
	assert.Equal(t, "acme", m.owner)
	assert.Equal(t, 42, m.number)
	assert.Contains(t, m.body, "## security")
	assert.Contains(t, m.body, "fingerprint abc123")
}

func TestNotifier_BestEffort(t *testing.T) {
	slack := &mockSlack{}
	n := New(nil, failingSink{}, &Slack{client: slack, channel: "C1"})
	err := n.Notify(context.Background(), sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, 1, slack.calls, "later sinks still run")

	var nilNotifier *Notifier
	assert.NoError(t, nilNotifier.Notify(context.Background(), sampleReport()))
	assert.Zero(t, nilNotifier.Len())
}

func TestFromConfig(t *testing.T) {
	n, err := FromConfig(context.Background(), config.NotifyConfig{}, nil)
	require.NoError(t, err)
	assert.Zero(t, n.Len())

	n, err = FromConfig(context.Background(), config.NotifyConfig{
		Slack:   config.SlackConfig{Token: "xoxb-test", Channel: "C1"},
		Discord: config.DiscordConfig{Token: "bot-token", Channel: "123"},
		GitHub:  config.GitHubConfig{Token: "ghp_test", Owner: "acme", Repo: "api", Issue: 7},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n.Len())

	_, err = FromConfig(context.Background(), config.NotifyConfig{
		Slack: config.SlackConfig{Token: "xoxb-test"},
	}, nil)
	assert.Error(t, err)

	_, err = FromConfig(context.Background(), config.NotifyConfig{
		GitHub: config.GitHubConfig{Token: "ghp_test", Owner: "acme"},
	}, nil)
	assert.Error(t, err)
}
