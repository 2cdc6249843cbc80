package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"churn-dashboard/internal/observability"
	"churn-dashboard/internal/services"
)

var (
	ErrNotIndexed    = errors.New("report has no question index")
	ErrEmptyQuestion = errors.New("question is empty")
)

type Options struct {
	Completer        Completer
	Embedder         Embedder
	Tokenizer        Tokenizer
	TopK             int
	MaxContextTokens int
	ChunkSize        int
	ChunkOverlap     int
	Logger           *slog.Logger
}

type Answer struct {
	Answer        string `json:"answer"`
	ContextTokens int    `json:"context_tokens"`
	Chunks        int    `json:"chunks"`
}

// Service keeps one index per stored report and answers questions over it.
// It is registered as a listener on the report registry.
type Service struct {
	mu      sync.RWMutex
	indexes map[string]*Index
	opts    Options
	logger  *slog.Logger
}

var _ services.Listener = (*Service)(nil)

func NewService(opts Options) *Service {
	if opts.Embedder == nil {
		opts.Embedder = NewHashEmbedder(DefaultDimensions)
	}
	if opts.Tokenizer == nil {
		opts.Tokenizer = DefaultTokenizer()
	}
	if opts.TopK <= 0 {
		opts.TopK = 8
	}
	if opts.MaxContextTokens <= 0 {
		opts.MaxContextTokens = 2000
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
		opts.ChunkOverlap = DefaultChunkOverlap
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		indexes: make(map[string]*Index),
		opts:    opts,
		logger:  logger,
	}
}

// ReportStored indexes the tables of a freshly stored report.
func (s *Service) ReportStored(r *services.Report) {
	if err := s.Index(context.Background(), r); err != nil {
		s.logger.Error("index report", "dataset_id", r.ID, "error", err)
	}
}

func (s *Service) ReportEvicted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, id)
}

func (s *Service) Index(ctx context.Context, r *services.Report) error {
	ctx, span := observability.StartSpan(ctx, "qa.index")
	defer span.FinishAndLog(s.logger)
	span.SetTag("dataset_id", r.ID)

	chunks := Chunk(Corpus(r.Tables()), s.opts.ChunkSize, s.opts.ChunkOverlap)
	ix, err := BuildIndex(ctx, s.opts.Embedder, chunks)
	if err != nil {
		span.SetError(err)
		return err
	}

	s.mu.Lock()
	s.indexes[r.ID] = ix
	s.mu.Unlock()

	s.logger.Debug("report indexed", "dataset_id", r.ID, "chunks", ix.Len())
	return nil
}

func (s *Service) Indexed(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indexes[id]
	return ok
}

// Ask retrieves context for question from the report's index and asks the
// language model. maxTokens <= 0 uses the configured budget.
func (s *Service) Ask(ctx context.Context, reportID, question string, maxTokens int) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if s.opts.Completer == nil {
		return nil, ErrNoAPIKey
	}
	if maxTokens <= 0 {
		maxTokens = s.opts.MaxContextTokens
	}

	s.mu.RLock()
	ix, ok := s.indexes[reportID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotIndexed
	}

	ctx, span := observability.StartSpan(ctx, "qa.ask")
	defer span.FinishAndLog(s.logger)
	span.SetTag("dataset_id", reportID)

	matches, err := ix.Search(ctx, s.opts.Embedder, question, s.opts.TopK)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	contextText, tokens := AssembleContext(matches, s.opts.Tokenizer, maxTokens)

	answer, err := s.opts.Completer.Complete(ctx, BuildPrompt(contextText, question))
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("complete: %w", err)
	}

	s.logger.Info("question answered",
		"dataset_id", reportID,
		"matches", len(matches),
		"context_tokens", tokens,
	)
	return &Answer{Answer: answer, ContextTokens: tokens, Chunks: len(matches)}, nil
}

func (s *Service) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"indexed_reports": len(s.indexes),
		"enabled":         s.opts.Completer != nil,
	}
}
