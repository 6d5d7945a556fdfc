package main

import (
	"context"
	"os"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fedmatch/internal/events"
	"github.com/sells-group/fedmatch/internal/store"
	"github.com/sells-group/fedmatch/pkg/anthropic"
	"github.com/sells-group/fedmatch/pkg/govwin"
	"github.com/sells-group/fedmatch/pkg/sam"
	sfpkg "github.com/sells-group/fedmatch/pkg/salesforce"
)

func openStore(ctx context.Context) (store.Store, error) {
	dsn := cfg.Store.DatabaseURL
	if cfg.Store.Driver == "sqlite" && dsn == "" {
		dsn = "fedmatch.db"
	}
	return store.Open(ctx, cfg.Store.Driver, dsn, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}

func newNotifier() *events.Notifier {
	return events.NewNotifier(cfg.Events.WebhookURL)
}

func newAnthropicClient() (anthropic.Client, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (FEDMATCH_ANTHROPIC_KEY)")
	}
	return anthropic.NewClient(cfg.Anthropic.Key), nil
}

func newSAMClient() (sam.Client, error) {
	if cfg.SAM.Key == "" {
		return nil, eris.New("SAM.gov API key is required (FEDMATCH_SAM_KEY)")
	}
	return sam.New(sam.Config{
		BaseURL: cfg.SAM.BaseURL,
		Key:     cfg.SAM.Key,
	}), nil
}

func newGovWinClient() (govwin.Client, error) {
	if cfg.GovWin.ClientID == "" {
		return nil, eris.New("govwin client ID is required (FEDMATCH_GOVWIN_CLIENT_ID)")
	}
	return govwin.New(govwin.Config{
		BaseURL:      cfg.GovWin.BaseURL,
		ClientID:     cfg.GovWin.ClientID,
		ClientSecret: cfg.GovWin.ClientSecret,
		Username:     cfg.GovWin.Username,
		Password:     cfg.GovWin.Password,
	}), nil
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (FEDMATCH_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf), nil
}
