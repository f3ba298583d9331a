package mint

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Spruked/promethean-echo/internal/chain"
	xerrors "github.com/Spruked/promethean-echo/internal/errors"
	"github.com/Spruked/promethean-echo/internal/events"
	"github.com/Spruked/promethean-echo/internal/ledger"
	"github.com/Spruked/promethean-echo/internal/metadata"
)

type fakeGenerator struct {
	calls *[]string
	err   error
}

func (g *fakeGenerator) Generate(_ context.Context, req metadata.Request) (*metadata.Document, error) {
	*g.calls = append(*g.calls, "metadata")
	if g.err != nil {
		return nil, g.err
	}
	return &metadata.Document{
		Name:        req.Title,
		Description: req.Description,
		Author:      req.Author,
		Tags:        req.Tags,
		CreatedAt:   time.Unix(1700000000, 0).UTC(),
	}, nil
}

type fakeUploader struct {
	calls *[]string
	uri   string
	err   error
}

func (u *fakeUploader) Upload(_ context.Context, _ string, _ []byte) (string, error) {
	*u.calls = append(*u.calls, "storage")
	if u.err != nil {
		return "", u.err
	}
	return u.uri, nil
}

type fakeChainClient struct {
	calls   *[]string
	receipt *chain.MintReceipt
	err     error
}

func (c *fakeChainClient) Mint(_ context.Context, _, _ string) (*chain.MintReceipt, error) {
	*c.calls = append(*c.calls, "chain")
	if c.err != nil {
		return nil, c.err
	}
	return c.receipt, nil
}

func (c *fakeChainClient) FetchChainSnapshot(context.Context) (chain.ChainSnapshot, error) {
	return chain.ChainSnapshot{ChainID: "0x1"}, nil
}

func (c *fakeChainClient) Close() {}

type fakeResolver struct {
	client chain.Client
	named  map[string]chain.Client
}

func (r *fakeResolver) DefaultClient() (chain.Client, error) {
	if r.client == nil {
		return nil, errors.New("no default chain")
	}
	return r.client, nil
}

func (r *fakeResolver) Client(name string) (chain.Client, bool) {
	client, ok := r.named[name]
	return client, ok
}

type fakePublisher struct {
	published []events.Event
}

func (p *fakePublisher) Publish(_ context.Context, event events.Event) error {
	p.published = append(p.published, event)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fixture struct {
	coordinator *Coordinator
	calls       []string
	generator   *fakeGenerator
	uploader    *fakeUploader
	chainClient *fakeChainClient
	store       *ledger.MemoryStore
	publisher   *fakePublisher
}

func newFixture() *fixture {
	f := &fixture{
		store:     ledger.NewMemoryStore(),
		publisher: &fakePublisher{},
	}
	f.generator = &fakeGenerator{calls: &f.calls}
	f.uploader = &fakeUploader{calls: &f.calls, uri: "ipfs://bafybeigdyrzt"}
	f.chainClient = &fakeChainClient{
		calls: &f.calls,
		receipt: &chain.MintReceipt{
			TokenID:     7,
			TxHash:      "0xdeadbeef",
			BlockNumber: 12,
			GasUsed:     90000,
		},
	}
	f.coordinator = NewCoordinator(
		f.generator,
		f.uploader,
		&fakeResolver{client: f.chainClient},
		f.store,
		f.publisher,
	)
	return f
}

func validRequest() Request {
	return Request{
		Title:       "Morning Light",
		Description: "A photograph of dawn over the harbor.",
		Tags:        []string{"photo", "dawn"},
		Author:      "tester",
	}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing title", func(r *Request) { r.Title = "" }},
		{"short title", func(r *Request) { r.Title = "ab" }},
		{"missing description", func(r *Request) { r.Description = "" }},
		{"short description", func(r *Request) { r.Description = "too short" }},
		{"too many tags", func(r *Request) {
			r.Tags = nil
			for i := 0; i < 11; i++ {
				r.Tags = append(r.Tags, fmt.Sprintf("tag%d", i))
			}
		}},
		{"short tag", func(r *Request) { r.Tags = []string{"x"} }},
		{"bad recipient", func(r *Request) { r.RecipientAddress = "not-an-address" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			req := validRequest()
			tc.mutate(&req)

			_, err := f.coordinator.Submit(context.Background(), req)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if xerrors.CodeOf(err) != CodeMintValidation {
				t.Fatalf("expected validation code, got %s", xerrors.CodeOf(err))
			}
			if len(f.calls) != 0 {
				t.Fatalf("no collaborator should be called, got %v", f.calls)
			}
		})
	}
}

func TestSubmitRunsCollaboratorsInOrder(t *testing.T) {
	f := newFixture()

	result, err := f.coordinator.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"metadata", "storage", "chain"}
	if len(f.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, f.calls)
	}
	for i := range want {
		if f.calls[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, f.calls)
		}
	}

	if result.MetadataURI == "" || result.TxHash == "" {
		t.Fatalf("expected populated result, got %+v", result)
	}
	if result.TokenID != 7 || result.Status != string(ledger.StatusSucceeded) {
		t.Fatalf("unexpected result: %+v", result)
	}

	record, err := f.store.Get(context.Background(), result.RequestID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Status != ledger.StatusSucceeded || record.Outcome == nil {
		t.Fatalf("ledger record not updated: %+v", record)
	}

	if len(f.publisher.published) != 1 || f.publisher.published[0].Type != events.TypeMintSucceeded {
		t.Fatalf("expected one success event, got %+v", f.publisher.published)
	}
}

func TestSubmitMetadataFailure(t *testing.T) {
	f := newFixture()
	f.generator.err = errors.New("model unavailable")

	_, err := f.coordinator.Submit(context.Background(), validRequest())
	if err == nil {
		t.Fatalf("expected error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeUpstreamFailure {
		t.Fatalf("expected upstream failure, got %s", xerrors.CodeOf(err))
	}
	if xerrors.StageOf(err) != StageMetadata {
		t.Fatalf("expected metadata stage, got %q", xerrors.StageOf(err))
	}
	if len(f.calls) != 1 || f.calls[0] != "metadata" {
		t.Fatalf("storage and chain must not run, got %v", f.calls)
	}
}

func TestSubmitStorageFailureSkipsChain(t *testing.T) {
	f := newFixture()
	f.uploader.err = errors.New("upload timed out")

	_, err := f.coordinator.Submit(context.Background(), validRequest())
	if err == nil {
		t.Fatalf("expected error")
	}
	if xerrors.StageOf(err) != StageStorage {
		t.Fatalf("expected storage stage, got %q", xerrors.StageOf(err))
	}

	for _, call := range f.calls {
		if call == "chain" {
			t.Fatalf("chain must never run after storage failure, got %v", f.calls)
		}
	}

	records, err := f.store.List(context.Background(), ledger.WithStatuses(ledger.StatusFailed))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].ErrorStage != StageStorage {
		t.Fatalf("expected one failed record with storage stage, got %+v", records)
	}

	if len(f.publisher.published) != 1 || f.publisher.published[0].Type != events.TypeMintFailed {
		t.Fatalf("expected one failure event, got %+v", f.publisher.published)
	}
}

func TestSubmitChainFailure(t *testing.T) {
	f := newFixture()
	f.chainClient.err = errors.New("execution reverted")

	_, err := f.coordinator.Submit(context.Background(), validRequest())
	if err == nil {
		t.Fatalf("expected error")
	}
	if xerrors.StageOf(err) != StageChain {
		t.Fatalf("expected chain stage, got %q", xerrors.StageOf(err))
	}

	records, err := f.store.List(context.Background(), ledger.WithStatuses(ledger.StatusFailed))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].ErrorStage != StageChain {
		t.Fatalf("expected one failed record with chain stage, got %+v", records)
	}
}

func TestSubmitUnknownChain(t *testing.T) {
	f := newFixture()
	req := validRequest()
	req.Chain = "unknown-net"

	_, err := f.coordinator.Submit(context.Background(), req)
	if err == nil {
		t.Fatalf("expected error")
	}
	if xerrors.StageOf(err) != StageChain {
		t.Fatalf("expected chain stage, got %q", xerrors.StageOf(err))
	}
}

func TestSubmitRoutesToNamedChain(t *testing.T) {
	f := newFixture()
	named := &fakeChainClient{
		calls:   &f.calls,
		receipt: &chain.MintReceipt{TokenID: 1, TxHash: "0x1", BlockNumber: 1, GasUsed: 1},
	}
	f.coordinator.chains = &fakeResolver{
		client: f.chainClient,
		named:  map[string]chain.Client{"sepolia": named},
	}

	req := validRequest()
	req.Chain = "sepolia"
	result, err := f.coordinator.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TxHash != "0x1" {
		t.Fatalf("expected named chain to handle the mint, got %+v", result)
	}
}
