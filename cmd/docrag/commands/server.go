package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/finsight/docrag/internal/core/rag"
)

// ServerStartAction はHTTPサーバを起動するコマンドのアクション
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	port := cmd.Int("port")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ask", handleAsk(appCtx))
	mux.HandleFunc("POST /api/ask/stream", handleAskStream(appCtx))
	mux.HandleFunc("GET /api/files", handleFileList(appCtx))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(appCtx.Registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appCtx.Logger.Info("HTTPサーバを起動", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("サーバ停止に失敗: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type askRequest struct {
	Query   string   `json:"query"`
	FileIDs []string `json:"file_ids,omitempty"`
	TopK    int      `json:"top_k,omitempty"`
}

type askResponse struct {
	Answer     string       `json:"answer"`
	Sources    []sourceJSON `json:"sources,omitempty"`
	Category   string       `json:"category"`
	SubQueries []string     `json:"sub_queries,omitempty"`
	ElapsedMs  int64        `json:"elapsed_ms"`
}

type sourceJSON struct {
	SourceFile string  `json:"source_file"`
	ChunkIndex int     `json:"chunk_index"`
	Category   string  `json:"category,omitempty"`
	Similarity float64 `json:"similarity"`
	Excerpt    string  `json:"excerpt"`
}

func decodeAskRequest(r *http.Request, appCtx *AppContext) (rag.AskParams, error) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return rag.AskParams{}, fmt.Errorf("不正なリクエストボディ: %w", err)
	}

	fileIDs, err := parseFileIDs(req.FileIDs)
	if err != nil {
		return rag.AskParams{}, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = appCtx.Config.Retrieval.TopK
	}

	return rag.AskParams{
		Query:   req.Query,
		FileIDs: fileIDs,
		TopK:    topK,
	}, nil
}

func toAskResponse(response *rag.Response) askResponse {
	out := askResponse{
		Answer:     response.Answer,
		Category:   string(response.Category),
		SubQueries: response.SubQueries,
		ElapsedMs:  response.ElapsedMs,
	}
	for _, source := range response.Sources {
		category := ""
		if c, ok := source.Category.Get(); ok {
			category = string(c)
		}
		out.Sources = append(out.Sources, sourceJSON{
			SourceFile: source.SourceFile,
			ChunkIndex: source.ChunkIndex,
			Category:   category,
			Similarity: source.Similarity,
			Excerpt:    source.Excerpt,
		})
	}
	return out
}

func handleAsk(appCtx *AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := decodeAskRequest(r, appCtx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		response, err := appCtx.RAG.Ask(r.Context(), params)
		if err != nil {
			appCtx.Logger.Error("質問応答に失敗", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toAskResponse(response)); err != nil {
			appCtx.Logger.Error("レスポンス書き込みに失敗", "error", err)
		}
	}
}

// handleAskStream はServer-Sent Eventsでストリーミング応答を返す
func handleAskStream(appCtx *AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := decodeAskRequest(r, appCtx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		events, err := appCtx.RAG.AskStream(r.Context(), params)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		for event := range events {
			payload, err := encodeStreamEvent(event)
			if err != nil {
				appCtx.Logger.Error("イベントのエンコードに失敗", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}

func encodeStreamEvent(event rag.StreamEvent) ([]byte, error) {
	switch event.Type {
	case rag.StreamEventStatus:
		return json.Marshal(map[string]string{"status": event.Status})
	case rag.StreamEventToken:
		return json.Marshal(map[string]string{"token": event.Token})
	case rag.StreamEventDone:
		return json.Marshal(toAskResponse(event.Done))
	case rag.StreamEventError:
		return json.Marshal(map[string]string{"error": event.Err.Error()})
	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}
}

func handleFileList(appCtx *AppContext) http.HandlerFunc {
	type fileJSON struct {
		FileID     string `json:"file_id,omitempty"`
		SourceFile string `json:"source_file"`
		Category   string `json:"category,omitempty"`
		ChunkCount int    `json:"chunk_count"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		files, err := appCtx.Store.ListSourceFiles(r.Context())
		if err != nil {
			appCtx.Logger.Error("ファイル一覧の取得に失敗", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		out := make([]fileJSON, 0, len(files))
		for _, file := range files {
			entry := fileJSON{
				SourceFile: file.SourceFile,
				ChunkCount: file.ChunkCount,
			}
			if id, ok := file.FileID.Get(); ok {
				entry.FileID = id.String()
			}
			if c, ok := file.Category.Get(); ok {
				entry.Category = string(c)
			}
			out = append(out, entry)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			appCtx.Logger.Error("レスポンス書き込みに失敗", "error", err)
		}
	}
}
