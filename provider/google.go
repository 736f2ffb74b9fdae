package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	forms "google.golang.org/api/forms/v1"
	"google.golang.org/api/option"

	"github.com/tbxark/formpilot/store"
	"github.com/tbxark/formpilot/types"
)

type GoogleConfig struct {
	ClientID     string `json:"client_id" toml:"client_id"`
	ClientSecret string `json:"client_secret" toml:"client_secret"`
	RedirectURL  string `json:"redirect_url" toml:"redirect_url"`
	// Endpoint overrides the Forms API base URL.
	Endpoint string `json:"endpoint,omitempty" toml:"endpoint"`
}

type GoogleOption func(*Google)

// WithHTTPClient sets the client used underneath the OAuth transport.
func WithHTTPClient(c *http.Client) GoogleOption {
	return func(g *Google) {
		g.base = c
	}
}

// Google talks to the Google Forms API with the user's stored OAuth token.
// Refreshed tokens are written back to the credential store.
type Google struct {
	oauth    *oauth2.Config
	creds    store.CredentialStore
	endpoint string
	base     *http.Client
}

func NewGoogle(cfg GoogleConfig, creds store.CredentialStore, opts ...GoogleOption) *Google {
	g := &Google{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoints.Google,
			Scopes:       []string{forms.FormsBodyScope},
		},
		creds:    creds,
		endpoint: cfg.Endpoint,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// AuthCodeURL is where a user grants access; state is echoed to the callback.
func (g *Google) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it for userID.
func (g *Google) Exchange(ctx context.Context, userID, code string) error {
	tok, err := g.oauth.Exchange(g.clientContext(ctx), code)
	if err != nil {
		return Classify("exchange code", err)
	}
	return g.creds.SaveCredential(ctx, credentialFromToken(userID, tok))
}

func (g *Google) clientContext(ctx context.Context) context.Context {
	if g.base == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, g.base)
}

func (g *Google) service(ctx context.Context, op, userID string) (*forms.Service, error) {
	cred, err := g.creds.GetCredential(ctx, userID)
	if errors.Is(err, store.ErrNoCredential) {
		return nil, Permanent(op, http.StatusUnauthorized, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: load credential: %w", op, err)
	}
	tok := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry,
	}
	cctx := g.clientContext(ctx)
	src := &savingTokenSource{
		ctx:    context.WithoutCancel(ctx),
		userID: userID,
		next:   g.oauth.TokenSource(cctx, tok),
		last:   tok.AccessToken,
		creds:  g.creds,
	}
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(cctx, oauth2.ReuseTokenSource(tok, src)))}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	svc, err := forms.NewService(ctx, opts...)
	if err != nil {
		return nil, Permanent(op, 0, err)
	}
	return svc, nil
}

func (g *Google) CreateRemoteForm(ctx context.Context, userID string, form RemoteForm) (string, error) {
	const op = "create remote form"
	svc, err := g.service(ctx, op, userID)
	if err != nil {
		return "", err
	}
	// Create accepts only the title; the description is set by UpdateRemoteInfo.
	created, err := svc.Forms.Create(&forms.Form{
		Info: &forms.Info{Title: form.Title, DocumentTitle: form.Title},
	}).Context(ctx).Do()
	if err != nil {
		return "", Classify(op, err)
	}
	slog.Debug("Created remote form", "user_id", userID, "remote_id", created.FormId)
	return created.FormId, nil
}

// UpdateRemoteInfo overwrites the remote title and description.
func (g *Google) UpdateRemoteInfo(ctx context.Context, userID, remoteID string, form RemoteForm) error {
	const op = "update remote info"
	svc, err := g.service(ctx, op, userID)
	if err != nil {
		return err
	}
	_, err = svc.Forms.BatchUpdate(remoteID, &forms.BatchUpdateFormRequest{
		Requests: []*forms.Request{{
			UpdateFormInfo: &forms.UpdateFormInfoRequest{
				Info: &forms.Info{
					Title:           form.Title,
					Description:     form.Description,
					ForceSendFields: []string{"Description"},
				},
				UpdateMask: "title,description",
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return Classify(op, err)
	}
	return nil
}

// ReplaceRemoteFields deletes every item of the remote form and recreates
// fields in order, in one batch.
func (g *Google) ReplaceRemoteFields(ctx context.Context, userID, remoteID string, fields []types.Field) (RemoteRef, error) {
	const op = "replace remote fields"
	svc, err := g.service(ctx, op, userID)
	if err != nil {
		return RemoteRef{}, err
	}
	current, err := svc.Forms.Get(remoteID).Context(ctx).Do()
	if err != nil {
		return RemoteRef{}, Classify(op, err)
	}
	requests := make([]*forms.Request, 0, len(current.Items)+len(fields))
	for i := len(current.Items) - 1; i >= 0; i-- {
		requests = append(requests, &forms.Request{
			DeleteItem: &forms.DeleteItemRequest{Location: location(i)},
		})
	}
	for i, field := range fields {
		requests = append(requests, &forms.Request{
			CreateItem: &forms.CreateItemRequest{Item: itemFor(field), Location: location(i)},
		})
	}
	ref := RemoteRef{ID: remoteID, URL: current.ResponderUri}
	if len(requests) > 0 {
		resp, err := svc.Forms.BatchUpdate(remoteID, &forms.BatchUpdateFormRequest{
			Requests:              requests,
			IncludeFormInResponse: true,
		}).Context(ctx).Do()
		if err != nil {
			return RemoteRef{}, Classify(op, err)
		}
		if resp.Form != nil && resp.Form.ResponderUri != "" {
			ref.URL = resp.Form.ResponderUri
		}
	}
	if ref.URL == "" {
		ref.URL = fmt.Sprintf("https://docs.google.com/forms/d/%s/viewform", remoteID)
	}
	slog.Debug("Replaced remote fields", "remote_id", remoteID, "deleted", len(current.Items), "created", len(fields))
	return ref, nil
}

// location always sends Index, since zero is a valid index.
func location(i int) *forms.Location {
	return &forms.Location{Index: int64(i), ForceSendFields: []string{"Index"}}
}

func itemFor(field types.Field) *forms.Item {
	q := &forms.Question{Required: field.Required}
	switch field.Kind {
	case types.KindMultiLineText:
		q.TextQuestion = &forms.TextQuestion{Paragraph: true}
	case types.KindSingleChoice, types.KindMultipleChoice:
		choice := &forms.ChoiceQuestion{Type: "RADIO"}
		if field.Kind == types.KindMultipleChoice {
			choice.Type = "CHECKBOX"
		}
		for _, opt := range field.Options {
			choice.Options = append(choice.Options, &forms.Option{Value: opt})
		}
		q.ChoiceQuestion = choice
	default:
		q.TextQuestion = &forms.TextQuestion{}
	}
	return &forms.Item{
		Title:        field.Label,
		QuestionItem: &forms.QuestionItem{Question: q},
	}
}

func credentialFromToken(userID string, tok *oauth2.Token) store.Credential {
	return store.Credential{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
}

type savingTokenSource struct {
	ctx    context.Context
	userID string
	next   oauth2.TokenSource
	last   string
	creds  store.CredentialStore
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.next.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.creds.SaveCredential(s.ctx, credentialFromToken(s.userID, tok)); err != nil {
			slog.Warn("Failed to persist refreshed token", "user_id", s.userID, "error", err)
		}
	}
	return tok, nil
}

var _ Provider = (*Google)(nil)
