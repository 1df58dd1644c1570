package app

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/metrics"
	"pdfchat/internal/model"
	"pdfchat/internal/pkg/pdfextract"
	"pdfchat/internal/pkg/pdfextract/pdftest"
	"pdfchat/internal/rag"
	"pdfchat/internal/repository"
	"pdfchat/internal/worker"
)

const vectorDim = 64

// bagOfWords embeds text as hashed word counts, so texts sharing words end up close.
type bagOfWords struct {
	docCalls   atomic.Int32
	queryCalls atomic.Int32
	fail       atomic.Bool
	block      atomic.Bool
}

func (b *bagOfWords) vector(text string) []float32 {
	vec := make([]float32, vectorDim)
	vec[0] = 0.01
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[1+int(h.Sum32()%(vectorDim-1))]++
	}
	return vec
}

func (b *bagOfWords) wait(ctx context.Context) error {
	if b.block.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	if b.fail.Load() {
		return errors.New("embedding service unavailable")
	}
	return nil
}

func (b *bagOfWords) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	b.docCalls.Add(1)
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = b.vector(text)
	}
	return out, nil
}

func (b *bagOfWords) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	b.queryCalls.Add(1)
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	return b.vector(text), nil
}

// capitalOracle answers "What is the capital of X?" only when the prompt's context says so.
type capitalOracle struct {
	block atomic.Bool
}

func (o *capitalOracle) Complete(ctx context.Context, prompt string) (string, error) {
	if o.block.Load() {
		<-ctx.Done()
		return "", ctx.Err()
	}
	contextStart := strings.Index(prompt, "Context:")
	questionStart := strings.LastIndex(prompt, "Question:")
	if contextStart < 0 || questionStart < contextStart {
		return "", errors.New("unexpected prompt layout")
	}
	contextText := prompt[contextStart:questionStart]
	question := prompt[questionStart:]

	const marker = "capital of "
	i := strings.Index(question, marker)
	if i < 0 {
		return rag.FallbackAnswer, nil
	}
	country := strings.TrimRight(strings.Fields(question[i+len(marker):])[0], "?")
	sentence := "The capital of " + country + " is "
	j := strings.Index(contextText, sentence)
	if j < 0 {
		return rag.FallbackAnswer, nil
	}
	rest := contextText[j+len(sentence):]
	city := strings.TrimRight(strings.Fields(rest)[0], ".")
	return fmt.Sprintf("The capital of %s is %s.", country, city), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.SessionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event model.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []model.SessionEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.SessionEventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	svc       *RAGService
	store     *repository.SessionStore
	embedder  *bagOfWords
	oracle    *capitalOracle
	publisher *recordingPublisher
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store:     repository.NewSessionStore(),
		embedder:  &bagOfWords{},
		oracle:    &capitalOracle{},
		publisher: &recordingPublisher{},
	}
	f.svc = NewRAGService(RAGDeps{
		Store:     f.store,
		Extract:   pdfextract.ExtractPages,
		Embedder:  f.embedder,
		Completer: f.oracle,
		Pool:      worker.NewPool(4),
		Publisher: f.publisher,
	}, opts)
	return f
}

var (
	franceDoc = pdftest.Build(
		"World capitals\nThe capital of France is Paris.",
		"Paris lies on the Seine and is known for its museums.",
	)
	italyDoc = pdftest.Build("The capital of Italy is Rome.")
)

func (f *fixture) upload(t *testing.T, sessionID string, data []byte) *UploadResult {
	t.Helper()
	res, err := f.svc.Upload(context.Background(), UploadInput{SessionID: sessionID, Filename: "doc.pdf", Data: data})
	require.NoError(t, err)
	return res
}

func (f *fixture) ask(sessionID, question string) (*AskResult, error) {
	return f.svc.Ask(context.Background(), AskInput{SessionID: sessionID, Question: question})
}

func TestUploadThenAsk(t *testing.T) {
	f := newFixture(t, Options{})

	res := f.upload(t, "s1", franceDoc)
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, "doc.pdf", res.Filename)
	assert.Equal(t, int64(len(franceDoc)), res.FileSize)
	assert.Equal(t, 2, res.PageCount)
	assert.GreaterOrEqual(t, res.ChunkCount, 2)
	assert.Equal(t, 1, f.svc.SessionCount())

	answer, err := f.ask("s1", "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "s1", answer.SessionID)
	assert.Contains(t, answer.Answer, "Paris")

	answer, err = f.ask("s1", "What is the capital of Germany?")
	require.NoError(t, err)
	assert.Equal(t, rag.FallbackAnswer, answer.Answer)

	assert.Equal(t, []model.SessionEventType{model.SessionIndexed}, f.publisher.types())
}

func TestDefaultSessionID(t *testing.T) {
	f := newFixture(t, Options{})
	res := f.upload(t, "  ", franceDoc)
	assert.Equal(t, DefaultSessionID, res.SessionID)

	answer, err := f.ask("", "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, DefaultSessionID, answer.SessionID)
	assert.Contains(t, answer.Answer, "Paris")
}

func TestAskBeforeUpload(t *testing.T) {
	f := newFixture(t, Options{})
	answer, err := f.ask("abc", "What is the capital of France?")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, answer)
	assert.Zero(t, f.embedder.queryCalls.Load())
}

func TestAskRejectsEmptyQuestionBeforeLookup(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.ask("never-uploaded", "   ")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t, Options{MaxUploadBytes: 64})
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, UploadInput{SessionID: "s", Filename: "notes.txt", Data: franceDoc})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Upload(ctx, UploadInput{SessionID: "s", Filename: "empty.pdf"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Upload(ctx, UploadInput{SessionID: "s", Filename: "big.PDF", Data: make([]byte, 65)})
	assert.ErrorIs(t, err, ErrResourceLimit)

	assert.Zero(t, f.embedder.docCalls.Load())
	assert.Equal(t, 0, f.svc.SessionCount())
}

func TestUploadWithoutTextIsRejected(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.Upload(context.Background(), UploadInput{SessionID: "s", Filename: "blank.pdf", Data: pdftest.Build("", " ")})
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, rag.ErrNoChunks)
	assert.Zero(t, f.embedder.docCalls.Load())
	assert.Equal(t, 0, f.svc.SessionCount())
}

func TestUploadMalformedPDF(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.Upload(context.Background(), UploadInput{SessionID: "s", Filename: "broken.pdf", Data: []byte("this is not really a pdf")})
	assert.ErrorIs(t, err, ErrDependency)
	assert.Equal(t, 0, f.svc.SessionCount())
}

func TestReuploadReplacesIndex(t *testing.T) {
	f := newFixture(t, Options{})

	first := f.upload(t, "s", franceDoc)
	again := f.upload(t, "s", franceDoc)
	assert.Equal(t, first.ChunkCount, again.ChunkCount)
	assert.Equal(t, 1, f.svc.SessionCount())
	retriever, err := f.store.Get("s")
	require.NoError(t, err)
	assert.Equal(t, first.ChunkCount, retriever.Size())

	f.upload(t, "s", italyDoc)
	assert.Equal(t, 1, f.svc.SessionCount())

	answer, err := f.ask("s", "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, rag.FallbackAnswer, answer.Answer)

	answer, err = f.ask("s", "What is the capital of Italy?")
	require.NoError(t, err)
	assert.Contains(t, answer.Answer, "Rome")
}

func TestFailedBuildKeepsPreviousIndex(t *testing.T) {
	f := newFixture(t, Options{})
	f.upload(t, "s", franceDoc)

	f.embedder.fail.Store(true)
	_, err := f.svc.Upload(context.Background(), UploadInput{SessionID: "s", Filename: "doc.pdf", Data: italyDoc})
	assert.ErrorIs(t, err, ErrDependency)
	f.embedder.fail.Store(false)

	answer, err := f.ask("s", "What is the capital of France?")
	require.NoError(t, err)
	assert.Contains(t, answer.Answer, "Paris")
}

func TestBuildTimeout(t *testing.T) {
	f := newFixture(t, Options{BuildTimeout: 30 * time.Millisecond})
	f.embedder.block.Store(true)

	_, err := f.svc.Upload(context.Background(), UploadInput{SessionID: "s", Filename: "doc.pdf", Data: franceDoc})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, f.svc.SessionCount())
}

func TestQueryTimeout(t *testing.T) {
	f := newFixture(t, Options{QueryTimeout: 30 * time.Millisecond})
	f.upload(t, "s", franceDoc)
	f.oracle.block.Store(true)

	_, err := f.ask("s", "What is the capital of France?")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, f.svc.SessionCount())
}

func TestQueryDependencyFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.upload(t, "s", franceDoc)
	f.embedder.fail.Store(true)

	_, err := f.ask("s", "What is the capital of France?")
	assert.ErrorIs(t, err, ErrDependency)
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t, Options{})
	assert.ErrorIs(t, f.svc.DeleteSession(context.Background(), "s"), ErrNotFound)

	f.upload(t, "s", franceDoc)
	require.NoError(t, f.svc.DeleteSession(context.Background(), "s"))
	assert.Equal(t, 0, f.svc.SessionCount())

	_, err := f.ask("s", "What is the capital of France?")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteSession(context.Background(), "s"), ErrNotFound)
}

func TestDeleteAllSessions(t *testing.T) {
	f := newFixture(t, Options{})
	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		f.upload(t, id, franceDoc)
	}
	require.Equal(t, 3, f.svc.SessionCount())

	assert.Equal(t, 3, f.svc.DeleteAllSessions(context.Background()))
	assert.Equal(t, 0, f.svc.SessionCount())
	for _, id := range ids {
		_, err := f.ask(id, "What is the capital of France?")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 0, f.svc.DeleteAllSessions(context.Background()))

	types := f.publisher.types()
	assert.Equal(t, model.SessionsCleared, types[len(types)-1])
}

func activeSessionsGauge(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "pdfchat_active_sessions" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("pdfchat_active_sessions not registered")
	return 0
}

func TestActiveSessionsGaugeFollowsStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := repository.NewSessionStore()
	svc := NewRAGService(RAGDeps{
		Store:     store,
		Extract:   pdfextract.ExtractPages,
		Embedder:  &bagOfWords{},
		Completer: &capitalOracle{},
		Pool:      worker.NewPool(4),
		Metrics:   metrics.New(reg),
	}, Options{})
	upload := func(id string) {
		_, err := svc.Upload(context.Background(), UploadInput{SessionID: id, Filename: "doc.pdf", Data: franceDoc})
		assert.NoError(t, err)
	}

	upload("a")
	upload("b")
	assert.Equal(t, 2.0, activeSessionsGauge(t, reg))

	var wg sync.WaitGroup
	for _, id := range []string{"c", "d", "e"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			upload(id)
		}()
	}
	svc.DeleteAllSessions(context.Background())
	wg.Wait()
	svc.DeleteAllSessions(context.Background())
	assert.Equal(t, float64(store.Count()), activeSessionsGauge(t, reg))

	upload("f")
	assert.Equal(t, 1.0, activeSessionsGauge(t, reg))
	require.NoError(t, svc.DeleteSession(context.Background(), "f"))
	assert.Equal(t, 0.0, activeSessionsGauge(t, reg))
}

func TestSessionsAreIsolatedUnderConcurrency(t *testing.T) {
	f := newFixture(t, Options{})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			doc := franceDoc
			want := "Paris"
			question := "What is the capital of France?"
			if i%2 == 1 {
				doc, want, question = italyDoc, "Rome", "What is the capital of Italy?"
			}
			if _, err := f.svc.Upload(context.Background(), UploadInput{SessionID: id, Filename: "doc.pdf", Data: doc}); err != nil {
				t.Error(err)
				return
			}
			answer, err := f.ask(id, question)
			if err != nil {
				t.Error(err)
				return
			}
			assert.Contains(t, answer.Answer, want)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, f.svc.SessionCount())
}

func TestIsPDFFilename(t *testing.T) {
	assert.True(t, IsPDFFilename("report.pdf"))
	assert.True(t, IsPDFFilename("REPORT.PDF"))
	assert.False(t, IsPDFFilename("report.pdf.exe"))
	assert.False(t, IsPDFFilename("pdf"))
	assert.False(t, IsPDFFilename(""))
}
