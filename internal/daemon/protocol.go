// Package daemon exposes the public API façade over a unix socket as
// newline-delimited JSON-RPC 2.0. This is the host-message transport of the
// system; the core stays transport-agnostic behind it.
package daemon

import (
	"encoding/json"

	"github.com/acgodson/blueband/internal/api"
	"github.com/acgodson/blueband/internal/collection"
	"github.com/acgodson/blueband/internal/errors"
	"github.com/acgodson/blueband/internal/ingest"
	"github.com/acgodson/blueband/internal/store"
)

// JSON-RPC 2.0 method names, mirroring the public operation set.
const (
	MethodPing   = "ping"
	MethodStatus = "status"

	MethodCreateCollection         = "create_collection"
	MethodGetCollection            = "get_collection"
	MethodListCollections          = "list_collections"
	MethodGetCollectionWithStats   = "get_collection_with_stats"
	MethodListCollectionsWithStats = "list_collections_with_stats"
	MethodUpdateCollectionMetadata = "update_collection_metadata"
	MethodUpdateCollectionSettings = "update_collection_settings"
	MethodDeleteCollection         = "delete_collection"

	MethodAddCollectionAdmin    = "add_collection_admin"
	MethodRemoveCollectionAdmin = "remove_collection_admin"
	MethodTransferGenesisAdmin  = "transfer_genesis_admin"
	MethodIsCollectionAdmin     = "is_collection_admin"
	MethodGetMyAdminLevel       = "get_my_admin_level"
	MethodListCollectionAdmins  = "list_collection_admins"
	MethodGetGenesisAdmin       = "get_genesis_admin"

	MethodAddDocument          = "add_document"
	MethodAddDocumentAndEmbed  = "add_document_and_embed"
	MethodGetDocument          = "get_document"
	MethodGetDocumentContent   = "get_document_content"
	MethodGetDocumentChunks    = "get_document_chunks"
	MethodListDocuments        = "list_documents"
	MethodDeleteDocument       = "delete_document"
	MethodEmbedExisting        = "embed_existing_document"
	MethodDeleteDocumentVecs   = "delete_document_vectors"

	MethodSearch                = "search"
	MethodSearchFiltered        = "search_filtered"
	MethodFindSimilarDocuments  = "find_similar_documents"
	MethodBatchSimilaritySearch = "batch_similarity_search"
	MethodDemoVectorSimilarity  = "demo_vector_similarity"

	MethodClearCache              = "clear_cache"
	MethodCleanupCache            = "cleanup_cache"
	MethodGetCacheStats           = "get_cache_stats"
	MethodInvalidateCache         = "invalidate_collection_cache"
	MethodValidateCollectionVecs  = "validate_collection_vectors"
	MethodGetStoreStats           = "get_store_stats"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Daemon-specific error codes.
const (
	ErrCodeNotFound      = -32004
	ErrCodeAlreadyExists = -32005
	ErrCodeNotAuthorized = -32003
	ErrCodeOperation     = -32000
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error is a JSON-RPC 2.0 error. Data carries the core's ERR_ code string
// so clients can discriminate without parsing messages.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{JSONRPC: "2.0", Result: result, ID: id}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{JSONRPC: "2.0", Error: &Error{Code: code, Message: message}, ID: id}
}

// errorResponse maps a core error onto the wire.
func errorResponse(id string, err error) Response {
	code := ErrCodeOperation
	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound, errors.ErrCodeEmptyIndex:
		code = ErrCodeNotFound
	case errors.ErrCodeAlreadyExists:
		code = ErrCodeAlreadyExists
	case errors.ErrCodeNotAuthorized:
		code = ErrCodeNotAuthorized
	case errors.ErrCodeInvalidInput, errors.ErrCodeDimensionMismatch:
		code = ErrCodeInvalidParams
	}
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: err.Error(),
			Data:    map[string]string{"error_code": errors.CodeOf(err)},
		},
		ID: id,
	}
}

// PingResult answers the ping method.
type PingResult struct {
	Pong bool `json:"pong"`
}

// StatusResult answers the status method.
type StatusResult struct {
	Version       string              `json:"version"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Cache         any                 `json:"cache"`
	Regions       []store.RegionStats `json:"regions"`
}

// Parameter shapes. Principal identifies the caller; the identity handshake
// itself is outside the core.

type PrincipalParams struct {
	Principal string `json:"principal"`
}

type CreateCollectionParams struct {
	Principal string                   `json:"principal"`
	Request   collection.CreateRequest `json:"request"`
}

type CollectionParams struct {
	Principal    string `json:"principal,omitempty"`
	CollectionID string `json:"collection_id"`
}

type AdminParams struct {
	Principal    string `json:"principal"`
	CollectionID string `json:"collection_id"`
	Target       string `json:"target"`
}

type UpdateMetadataParams struct {
	Principal    string  `json:"principal"`
	CollectionID string  `json:"collection_id"`
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
}

type UpdateSettingsParams struct {
	Principal    string                   `json:"principal"`
	CollectionID string                   `json:"collection_id"`
	Settings     store.CollectionSettings `json:"settings"`
}

type AddDocumentParams struct {
	Principal string                    `json:"principal"`
	Request   ingest.AddDocumentRequest `json:"request"`
	ProxyURL  string                    `json:"proxy_url,omitempty"`
}

type DocumentParams struct {
	Principal    string `json:"principal,omitempty"`
	CollectionID string `json:"collection_id"`
	DocumentID   string `json:"document_id"`
}

type SearchParams struct {
	Principal string            `json:"principal,omitempty"`
	Request   api.SearchRequest `json:"request"`
}

type FindSimilarParams struct {
	CollectionID string   `json:"collection_id"`
	DocumentID   string   `json:"document_id"`
	K            *int     `json:"k,omitempty"`
	MinScore     *float32 `json:"min_score,omitempty"`
}

type BatchSearchParams struct {
	CollectionID string   `json:"collection_id"`
	Queries      []string `json:"queries"`
	K            *int     `json:"k,omitempty"`
	MinScore     *float32 `json:"min_score,omitempty"`
}

type DemoParams struct {
	Texts    []string `json:"texts"`
	Query    string   `json:"query"`
	ProxyURL string   `json:"proxy_url,omitempty"`
	K        *int     `json:"k,omitempty"`
	MinScore *float32 `json:"min_score,omitempty"`
}

type ValidateParams struct {
	Principal    string `json:"principal"`
	CollectionID string `json:"collection_id"`
	Repair       bool   `json:"repair,omitempty"`
}
