package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/acgodson/blueband/internal/api"
	"github.com/acgodson/blueband/pkg/version"
)

// connIdleTimeout disconnects clients that go quiet.
const connIdleTimeout = 5 * time.Minute

// Server serves the façade over a unix socket. Connections are persistent:
// each newline-delimited request gets one response.
type Server struct {
	socketPath string
	api        *api.API
	logger     *slog.Logger
	started    time.Time

	handlers map[string]func(ctx context.Context, params json.RawMessage) (any, error)

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a daemon server around the façade.
func NewServer(socketPath string, a *api.API, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{socketPath: socketPath, api: a, logger: logger}
	s.handlers = s.buildHandlers()
	return s
}

// ListenAndServe starts the server and blocks until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	_ = os.Remove(s.socketPath) // stale socket from a crashed run

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	s.started = time.Now()
	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	s.logger.Info("daemon_listening", slog.String("socket", s.socketPath))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			done := s.shutdown
			s.mu.Unlock()
			if done {
				break
			}
			s.logger.Error("daemon_accept_error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		if err := conn.SetDeadline(time.Now().Add(connIdleTimeout)); err != nil {
			return
		}

		var req Request
		if err := decoder.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
			return
		}

		resp := s.handleRequest(ctx, req)
		if err := encoder.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	if req.JSONRPC != "2.0" {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}
	handler, ok := s.handlers[req.Method]
	if !ok {
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound,
			fmt.Sprintf("unknown method %q", req.Method))
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return NewSuccessResponse(req.ID, result)
}

// decode unmarshals params into the expected shape; nil params decode as the
// zero value.
func decode[T any](params json.RawMessage) (T, error) {
	var v T
	if len(params) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(params, &v); err != nil {
		return v, fmt.Errorf("invalid params: %w", err)
	}
	return v, nil
}

func handle[T any](fn func(ctx context.Context, p T) (any, error)) func(context.Context, json.RawMessage) (any, error) {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		p, err := decode[T](params)
		if err != nil {
			return nil, err
		}
		return fn(ctx, p)
	}
}

func (s *Server) buildHandlers() map[string]func(context.Context, json.RawMessage) (any, error) {
	a := s.api
	return map[string]func(context.Context, json.RawMessage) (any, error){
		MethodPing: func(context.Context, json.RawMessage) (any, error) {
			return PingResult{Pong: true}, nil
		},
		MethodStatus: func(ctx context.Context, _ json.RawMessage) (any, error) {
			regions, err := a.GetStoreStats(ctx)
			if err != nil {
				return nil, err
			}
			return StatusResult{
				Version:       version.Short(),
				UptimeSeconds: int64(time.Since(s.started).Seconds()),
				Cache:         a.GetCacheStats(),
				Regions:       regions,
			}, nil
		},

		MethodCreateCollection: handle(func(ctx context.Context, p CreateCollectionParams) (any, error) {
			return a.CreateCollection(ctx, p.Principal, p.Request)
		}),
		MethodGetCollection: handle(func(ctx context.Context, p CollectionParams) (any, error) {
			return a.GetCollection(ctx, p.CollectionID)
		}),
		MethodListCollections: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return a.ListCollections(ctx)
		},
		MethodGetCollectionWithStats: handle(func(ctx context.Context, p CollectionParams) (any, error) {
			return a.GetCollectionWithStats(ctx, p.CollectionID)
		}),
		MethodListCollectionsWithStats: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return a.ListCollectionsWithStats(ctx)
		},
		MethodUpdateCollectionMetadata: handle(func(ctx context.Context, p UpdateMetadataParams) (any, error) {
			return a.UpdateCollectionMetadata(ctx, p.Principal, p.CollectionID, p.Name, p.Description)
		}),
		MethodUpdateCollectionSettings: handle(func(ctx context.Context, p UpdateSettingsParams) (any, error) {
			return a.UpdateCollectionSettings(ctx, p.Principal, p.CollectionID, p.Settings)
		}),
		MethodDeleteCollection: handle(func(ctx context.Context, p CollectionParams) (any, error) {
			return nil, a.DeleteCollection(ctx, p.Principal, p.CollectionID)
		}),

		MethodAddCollectionAdmin: handle(func(ctx context.Context, p AdminParams) (any, error) {
			return nil, a.AddCollectionAdmin(ctx, p.Principal, p.CollectionID, p.Target)
		}),
		MethodRemoveCollectionAdmin: handle(func(ctx context.Context, p AdminParams) (any, error) {
			return nil, a.RemoveCollectionAdmin(ctx, p.Principal, p.CollectionID, p.Target)
		}),
		MethodTransferGenesisAdmin: handle(func(ctx context.Context, p AdminParams) (any, error) {
			return nil, a.TransferGenesisAdmin(ctx, p.Principal, p.CollectionID, p.Target)
		}),
		MethodIsCollectionAdmin: handle(func(ctx context.Context, p AdminParams) (any, error) {
			return a.IsCollectionAdmin(ctx, p.CollectionID, p.Target)
		}),
		MethodGetMyAdminLevel: handle(func(ctx context.Context, p CollectionParams) (any, error) {
			return a.GetMyAdminLevel(ctx, p.Principal, p.CollectionID)
		}),
		MethodListCollectionAdmins: handle(func(ctx context.Context, p CollectionParams) (any, error) {
			return a.ListCollectionAdmins(ctx, p.CollectionID)
		}),
		MethodGetGenesisAdmin: handle(func(ctx context.Context, p CollectionParams) (any, error) {
			return a.GetGenesisAdmin(ctx, p.CollectionID)
		}),

		MethodAddDocument: handle(func(ctx context.Context, p AddDocumentParams) (any, error) {
			return a.AddDocument(ctx, p.Principal, p.Request)
		}),
		MethodAddDocumentAndEmbed: handle(func(ctx context.Context, p AddDocumentParams) (any, error) {
			return a.AddDocumentAndEmbed(ctx, p.Principal, p.Request, p.ProxyURL)
		}),
		MethodGetDocument: handle(func(ctx context.Context, p DocumentParams) (any, error) {
			return a.GetDocument(ctx, p.CollectionID, p.DocumentID)
		}),
		MethodGetDocumentContent: handle(func(ctx context.Context, p DocumentParams) (any, error) {
			return a.GetDocumentContent(ctx, p.CollectionID, p.DocumentID)
		}),
		MethodGetDocumentChunks: handle(func(ctx context.Context, p DocumentParams) (any, error) {
			return a.GetDocumentChunks(ctx, p.DocumentID)
		}),
		MethodListDocuments: handle(func(ctx context.Context, p CollectionParams) (any, error) {
			return a.ListDocuments(ctx, p.CollectionID)
		}),
		MethodDeleteDocument: handle(func(ctx context.Context, p DocumentParams) (any, error) {
			return nil, a.DeleteDocument(ctx, p.Principal, p.CollectionID, p.DocumentID)
		}),
		MethodEmbedExisting: handle(func(ctx context.Context, p DocumentParams) (any, error) {
			return nil, a.EmbedExistingDocument(ctx, p.Principal, p.CollectionID, p.DocumentID)
		}),
		MethodDeleteDocumentVecs: handle(func(ctx context.Context, p DocumentParams) (any, error) {
			return nil, a.DeleteDocumentVectors(ctx, p.Principal, p.CollectionID, p.DocumentID)
		}),

		MethodSearch: handle(func(ctx context.Context, p SearchParams) (any, error) {
			return a.Search(ctx, p.Request)
		}),
		MethodSearchFiltered: handle(func(ctx context.Context, p SearchParams) (any, error) {
			return a.SearchFiltered(ctx, p.Request)
		}),
		MethodFindSimilarDocuments: handle(func(ctx context.Context, p FindSimilarParams) (any, error) {
			return a.FindSimilarDocuments(ctx, p.CollectionID, p.DocumentID, p.K, p.MinScore)
		}),
		MethodBatchSimilaritySearch: handle(func(ctx context.Context, p BatchSearchParams) (any, error) {
			return a.BatchSimilaritySearch(ctx, p.CollectionID, p.Queries, p.K, p.MinScore)
		}),
		MethodDemoVectorSimilarity: handle(func(ctx context.Context, p DemoParams) (any, error) {
			return a.DemoVectorSimilarity(ctx, p.Texts, p.Query, p.ProxyURL, p.K, p.MinScore)
		}),

		MethodClearCache: func(context.Context, json.RawMessage) (any, error) {
			a.ClearCache()
			return nil, nil
		},
		MethodCleanupCache: func(context.Context, json.RawMessage) (any, error) {
			return a.CleanupCache(), nil
		},
		MethodGetCacheStats: func(context.Context, json.RawMessage) (any, error) {
			return a.GetCacheStats(), nil
		},
		MethodInvalidateCache: handle(func(_ context.Context, p CollectionParams) (any, error) {
			a.InvalidateCollectionCache(p.CollectionID)
			return nil, nil
		}),
		MethodValidateCollectionVecs: handle(func(ctx context.Context, p ValidateParams) (any, error) {
			return a.ValidateCollectionVectors(ctx, p.Principal, p.CollectionID, p.Repair)
		}),
		MethodGetStoreStats: func(ctx context.Context, _ json.RawMessage) (any, error) {
			return a.GetStoreStats(ctx)
		},
	}
}
