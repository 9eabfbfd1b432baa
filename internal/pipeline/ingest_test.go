package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/resume-matcher/internal/adapter/embedmodel"
	"github.com/fairyhunter13/resume-matcher/internal/domain"
	"github.com/fairyhunter13/resume-matcher/internal/embedding"
	"github.com/fairyhunter13/resume-matcher/internal/pipeline"
)

type metaStub struct {
	resolveErr error
	linkErr    error
	linked     []string
}

func (m *metaStub) ResolvePosting(_ domain.Context, token string) (domain.JobPosting, error) {
	if m.resolveErr != nil {
		return domain.JobPosting{}, m.resolveErr
	}
	return domain.JobPosting{ID: "posting-1", PublicToken: token, Accepting: true}, nil
}

func (m *metaStub) LinkApplication(_ domain.Context, appID, postingID, _, docID string) error {
	if m.linkErr != nil {
		return m.linkErr
	}
	m.linked = append(m.linked, appID+":"+postingID+":"+docID)
	return nil
}

type parserStub struct{ err error }

func (p parserStub) Process(_ domain.Context, _ string, _ domain.Kind) (domain.ParseOutput, error) {
	if p.err != nil {
		return domain.ParseOutput{}, p.err
	}
	return domain.ParseOutput{
		RawText:      "raw resume",
		CleanText:    "clean resume",
		ExtractedPII: map[string]string{"phone": "555-0100", "email": "extracted@example.com"},
	}, nil
}

type stdStub struct{ err error }

func (s stdStub) Standardize(_ domain.Context, _, _ string, _ domain.Kind) (domain.StandardizedInfo, error) {
	if s.err != nil {
		return domain.StandardizedInfo{}, s.err
	}
	return domain.StandardizedInfo{JobTitle: "Engineer", ExperienceYears: 3, Skills: []string{"Go"}}, nil
}

// storeStub records puts and optionally fails one collection write.
type storeStub struct {
	mu         sync.Mutex
	docs       map[string]domain.DocumentMeta
	structured map[string]domain.StructuredPayload
	bundles    map[string]domain.Bundle
	failBundle error
	deleted    []string
}

func newStoreStub() *storeStub {
	return &storeStub{
		docs:       map[string]domain.DocumentMeta{},
		structured: map[string]domain.StructuredPayload{},
		bundles:    map[string]domain.Bundle{},
	}
}

func (s *storeStub) PutDocument(_ domain.Context, meta domain.DocumentMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[meta.ID] = meta
	return nil
}

func (s *storeStub) PutStructured(_ domain.Context, id string, _ domain.Kind, p domain.StructuredPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.structured[id] = p
	return nil
}

func (s *storeStub) PutBundle(_ domain.Context, id string, _ domain.Kind, b domain.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failBundle != nil {
		return s.failBundle
	}
	s.bundles[id] = b
	return nil
}

func (s *storeStub) GetDocument(_ domain.Context, id string, _ domain.Kind) (domain.DocumentMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.docs[id]
	if !ok {
		return domain.DocumentMeta{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *storeStub) GetStructured(_ domain.Context, id string, _ domain.Kind) (domain.StructuredPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.structured[id]
	if !ok {
		return domain.StructuredPayload{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *storeStub) GetBundle(_ domain.Context, id string, _ domain.Kind) (domain.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[id]
	if !ok {
		return domain.Bundle{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *storeStub) Delete(_ domain.Context, id string, _ domain.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	delete(s.structured, id)
	delete(s.bundles, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *storeStub) Scroll(_ domain.Context, _ domain.Kind, _ int, _ string) ([]domain.DocumentSummary, string, error) {
	return nil, "", nil
}

func newEmbedder(t *testing.T) domain.Embedder {
	t.Helper()
	eng, err := embedding.New(context.Background(), embedmodel.NewStub(), 256)
	require.NoError(t, err)
	return eng
}

func appData() domain.ApplicationData {
	return domain.ApplicationData{
		ApplicationID:  "app-1",
		JobToken:       "tok-1",
		ApplicantName:  "Jane Doe",
		ApplicantEmail: "jane@example.com",
		FilePath:       "/tmp/upload.pdf",
		Filename:       "upload.pdf",
		MIME:           "application/pdf",
	}
}

func TestRun_HappyPath(t *testing.T) {
	t.Parallel()

	meta := &metaStub{}
	store := newStoreStub()
	p := pipeline.New(meta, parserStub{}, stdStub{}, newEmbedder(t), store)

	res, err := p.Run(context.Background(), appData())
	require.NoError(t, err)
	assert.NotEmpty(t, res.DocumentID)
	assert.Equal(t, "posting-1", res.JobID)

	// All three collections written and the application linked.
	assert.Len(t, store.docs, 1)
	assert.Len(t, store.structured, 1)
	assert.Len(t, store.bundles, 1)
	require.Len(t, meta.linked, 1)
	assert.Contains(t, meta.linked[0], res.DocumentID)

	// Submitted email wins over extracted PII; extracted phone survives.
	info := store.structured[res.DocumentID].Info
	assert.Equal(t, "jane@example.com", info.ContactInfo["email"])
	assert.Equal(t, "555-0100", info.ContactInfo["phone"])
	assert.Equal(t, "Jane Doe", info.ContactInfo["name"])
}

func TestRun_DeterministicDocumentID(t *testing.T) {
	t.Parallel()

	emb := newEmbedder(t)
	p1 := pipeline.New(&metaStub{}, parserStub{}, stdStub{}, emb, newStoreStub())
	p2 := pipeline.New(&metaStub{}, parserStub{}, stdStub{}, emb, newStoreStub())

	r1, err := p1.Run(context.Background(), appData())
	require.NoError(t, err)
	r2, err := p2.Run(context.Background(), appData())
	require.NoError(t, err)
	assert.Equal(t, r1.DocumentID, r2.DocumentID)
}

func TestRun_ReprocessOverwrites(t *testing.T) {
	t.Parallel()

	store := newStoreStub()
	p := pipeline.New(&metaStub{}, parserStub{}, stdStub{}, newEmbedder(t), store)

	_, err := p.Run(context.Background(), appData())
	require.NoError(t, err)
	_, err = p.Run(context.Background(), appData())
	require.NoError(t, err)
	assert.Len(t, store.bundles, 1)
}

func TestRun_StepTagging(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	emb := newEmbedder(t)

	cases := []struct {
		name string
		p    *pipeline.Pipeline
		step string
	}{
		{"resolve", pipeline.New(&metaStub{resolveErr: boom}, parserStub{}, stdStub{}, emb, newStoreStub()), pipeline.StepResolve},
		{"parse", pipeline.New(&metaStub{}, parserStub{err: boom}, stdStub{}, emb, newStoreStub()), pipeline.StepParse},
		{"standardize", pipeline.New(&metaStub{}, parserStub{}, stdStub{err: boom}, emb, newStoreStub()), pipeline.StepStandardize},
		{"link", pipeline.New(&metaStub{linkErr: boom}, parserStub{}, stdStub{}, emb, newStoreStub()), pipeline.StepLink},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := tc.p.Run(context.Background(), appData())
			require.Error(t, err)
			assert.Equal(t, tc.step, pipeline.FailedStep(err))
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestRun_PartialPersistCleansUp(t *testing.T) {
	t.Parallel()

	store := newStoreStub()
	store.failBundle = errors.New("qdrant down")
	p := pipeline.New(&metaStub{}, parserStub{}, stdStub{}, newEmbedder(t), store)

	_, err := p.Run(context.Background(), appData())
	require.Error(t, err)
	assert.Equal(t, pipeline.StepPersist, pipeline.FailedStep(err))

	// Whatever landed was removed.
	assert.NotEmpty(t, store.deleted)
	assert.Empty(t, store.docs)
	assert.Empty(t, store.structured)
}

func TestFailedStep_PlainError(t *testing.T) {
	t.Parallel()
	assert.Empty(t, pipeline.FailedStep(errors.New("plain")))
}
