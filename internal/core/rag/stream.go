package rag

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AskStream は質問に対する回答をイベントストリームで返す。
// イベント順序は status* -> token* -> done。チャネルは完了・エラー・
// キャンセルのいずれでも必ずクローズされる。
func (s *Service) AskStream(ctx context.Context, params AskParams) (<-chan StreamEvent, error) {
	if strings.TrimSpace(params.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		s.streamAnswer(ctx, params, events)
	}()
	return events, nil
}

func (s *Service) streamAnswer(ctx context.Context, params AskParams, events chan<- StreamEvent) {
	start := time.Now()

	if !s.emit(ctx, events, StreamEvent{Type: StreamEventStatus, Status: StatusAnalyzing}) {
		return
	}

	classification := s.classifier.Classify(ctx, params.Query)

	if classification.AnswerableFromMetadata {
		answer, err := s.answerFromMetadata(ctx)
		if err != nil {
			s.emit(ctx, events, StreamEvent{Type: StreamEventError, Err: err})
			return
		}
		if !s.emit(ctx, events, StreamEvent{Type: StreamEventToken, Token: answer}) {
			return
		}
		s.observe(start, "metadata")
		s.emit(ctx, events, StreamEvent{Type: StreamEventDone, Done: &Response{
			Category:  classification.Category,
			ElapsedMs: time.Since(start).Milliseconds(),
		}})
		return
	}

	subQueries := s.decomposer.Decompose(ctx, params.Query, classification.ComplexityScore)

	if !s.emit(ctx, events, StreamEvent{Type: StreamEventStatus, Status: StatusSearching}) {
		return
	}

	queryVector, err := s.embedder.EmbedOne(ctx, params.Query)
	if err != nil {
		s.observe(start, "error")
		s.emit(ctx, events, StreamEvent{Type: StreamEventError, Err: fmt.Errorf("failed to embed query: %w", err)})
		return
	}

	results, err := s.retrieve(ctx, queryVector, params, classification.Category)
	if err != nil {
		s.observe(start, "error")
		s.emit(ctx, events, StreamEvent{Type: StreamEventError, Err: err})
		return
	}

	valid := validateContext(results)
	if len(valid) == 0 {
		// コンテキストが空ならプロバイダを呼ばず固定回答を1チャンクで流す
		if !s.emit(ctx, events, StreamEvent{Type: StreamEventToken, Token: NoInformationAnswer}) {
			return
		}
		s.observe(start, "no_context")
		s.emit(ctx, events, StreamEvent{Type: StreamEventDone, Done: &Response{
			Category:  classification.Category,
			ElapsedMs: time.Since(start).Milliseconds(),
		}})
		return
	}

	if !s.emit(ctx, events, StreamEvent{Type: StreamEventStatus, Status: StatusGenerating}) {
		return
	}

	prompt := BuildAnswerPrompt(params.Query, BuildContext(valid))
	chunks, err := s.llm.StreamCompletion(ctx, CompletionRequest{
		System:      AnswerSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   answerMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		s.observe(start, "error")
		s.emit(ctx, events, StreamEvent{Type: StreamEventError, Err: fmt.Errorf("answer generation failed: %w", err)})
		return
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			// 配信済みトークンは参考情報として扱われるが不完全
			s.observe(start, "error")
			s.emit(ctx, events, StreamEvent{Type: StreamEventError, Err: fmt.Errorf("answer generation failed: %w", chunk.Err)})
			return
		}
		if !s.emit(ctx, events, StreamEvent{Type: StreamEventToken, Token: chunk.Token}) {
			return
		}
	}

	s.observe(start, "ok")
	done := &Response{
		Sources:   buildSources(valid),
		Category:  classification.Category,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
	if len(subQueries) > 1 {
		done.SubQueries = subQueries
	}
	s.emit(ctx, events, StreamEvent{Type: StreamEventDone, Done: done})
}

// emit はキャンセルを尊重してイベントを送出する。送出できた場合にtrueを返す。
func (s *Service) emit(ctx context.Context, events chan<- StreamEvent, event StreamEvent) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
