package notify

import (
	"context"
	"fmt"

	"github.com/google/go-github/v68/github"
	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/integrate"
	"golang.org/x/oauth2"
)

// issuesClient abstracts the GitHub Issues methods we use, enabling test mocks.
type issuesClient interface {
	CreateComment(ctx context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
}

// GitHub comments reports on an issue or pull request.
type GitHub struct {
	issues issuesClient
	owner  string
	repo   string
	number int
}

// NewGitHub creates a GitHub sink authenticated with a token.
func NewGitHub(ctx context.Context, cfg config.GitHubConfig) (*GitHub, error) {
	if cfg.Owner == "" || cfg.Repo == "" || cfg.Issue <= 0 {
		return nil, fmt.Errorf("notify: github owner, repo and issue are required")
	}
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	client := github.NewClient(httpClient)
	return &GitHub{issues: client.Issues, owner: cfg.Owner, repo: cfg.Repo, number: cfg.Issue}, nil
}

// Name implements Sink.
func (g *GitHub) Name() string { return "github" }

// Send implements Sink. GitHub renders the synthesis as markdown, so it is
// posted in full.
func (g *GitHub) Send(ctx context.Context, r *integrate.Report) error {
	body := fmt.Sprintf("**%s**\n\n%s\n\n<sub>fingerprint %s</sub>", Title(r), r.Synthesis, r.Fingerprint)
	_, _, err := g.issues.CreateComment(ctx, g.owner, g.repo, g.number, &github.IssueComment{Body: github.Ptr(body)})
	return err
}
