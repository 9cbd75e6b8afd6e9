package errors

import "net/http"

// Module codes (AA) — one per top-level component, plus a shared bucket.
const (
	ModuleCommon       = 0
	ModuleEmbedding    = 1
	ModuleLLM          = 2
	ModuleCatalog      = 3
	ModuleIndex        = 4
	ModuleSync         = 5
	ModuleKnowledge    = 6
	ModuleRetriever    = 7
	ModuleIntent       = 8
	ModuleValidator    = 9
	ModuleRefine       = 10
	ModuleOrchestrator = 11
	ModuleSession      = 12
	ModuleMetrics      = 13
	ModuleGateway      = 14
)

// Category codes (BB).
const (
	CategoryRequest   = 1
	CategoryAuth      = 2
	CategoryResource  = 4
	CategoryConflict  = 5
	CategoryRateLimit = 6
	CategoryInternal  = 7
	CategoryDatabase  = 8
	CategoryCache     = 9
	CategoryNetwork   = 10
	CategoryTimeout   = 11
	CategoryConfig    = 12
)

// OK represents a successful operation.
var OK = Register(&Errno{Code: 0, HTTP: http.StatusOK, Message: "success"})

// Shared errors, usable by any module.
var (
	ErrBadRequest = classify(Register(&Errno{
		Code: MakeCode(ModuleCommon, CategoryRequest, 0), HTTP: http.StatusBadRequest,
		Message: "bad request",
	}), TaxonomyUpstream4xx)

	ErrInternal = classify(Register(&Errno{
		Code: MakeCode(ModuleCommon, CategoryInternal, 0), HTTP: http.StatusInternalServerError,
		Message: "internal error",
	}), TaxonomyInvariant)

	ErrNotFound = classify(Register(&Errno{
		Code: MakeCode(ModuleCommon, CategoryResource, 0), HTTP: http.StatusNotFound,
		Message: "not found",
	}), TaxonomyNotFound)

	ErrTimeout = classify(Register(&Errno{
		Code: MakeCode(ModuleCommon, CategoryTimeout, 0), HTTP: http.StatusGatewayTimeout,
		Message: "operation timed out",
	}), TaxonomyTransient)

	ErrOverload = classify(Register(&Errno{
		Code: MakeCode(ModuleCommon, CategoryRateLimit, 0), HTTP: http.StatusTooManyRequests,
		Message: "busy, try again",
	}), TaxonomyOverload)

	ErrUnauthorized = classify(Register(&Errno{
		Code: MakeCode(ModuleCommon, CategoryAuth, 0), HTTP: http.StatusUnauthorized,
		Message: "unauthorized",
	}), TaxonomyUpstream4xx)
)

// C1 Embedding Client.
var (
	ErrEmbeddingUpstream = classify(Register(&Errno{
		Code: MakeCode(ModuleEmbedding, CategoryNetwork, 0), HTTP: http.StatusBadGateway,
		Message: "embedding upstream failed after retries",
	}), TaxonomyTransient)
)

// C2 LLM Client.
var (
	ErrLLMSchema = classify(Register(&Errno{
		Code: MakeCode(ModuleLLM, CategoryRequest, 0), HTTP: http.StatusBadGateway,
		Message: "llm response failed schema validation",
	}), TaxonomyInvariant)

	ErrLLMTimeout = classify(Register(&Errno{
		Code: MakeCode(ModuleLLM, CategoryTimeout, 0), HTTP: http.StatusGatewayTimeout,
		Message: "llm call timed out",
	}), TaxonomyTransient)
)

// C3 Catalog Fetcher.
var (
	ErrCatalogNotFound = classify(Register(&Errno{
		Code: MakeCode(ModuleCatalog, CategoryResource, 0), HTTP: http.StatusNotFound,
		Message: "catalog record not found",
	}), TaxonomyNotFound)

	ErrCatalogUpstream = classify(Register(&Errno{
		Code: MakeCode(ModuleCatalog, CategoryNetwork, 0), HTTP: http.StatusBadGateway,
		Message: "catalog upstream failed",
	}), TaxonomyTransient)

	ErrOrderMismatch = classify(Register(&Errno{
		Code: MakeCode(ModuleCatalog, CategoryResource, 1), HTTP: http.StatusNotFound,
		Message: "order number and email did not both match",
	}), TaxonomyNotFound)
)

// C4 Index Store.
var (
	ErrStoreTimeout = classify(Register(&Errno{
		Code: MakeCode(ModuleIndex, CategoryTimeout, 0), HTTP: http.StatusGatewayTimeout,
		Message: "index store deadline exceeded",
	}), TaxonomyTransient)

	ErrStoreBusy = classify(Register(&Errno{
		Code: MakeCode(ModuleIndex, CategoryRateLimit, 0), HTTP: http.StatusTooManyRequests,
		Message: "index store connection pool exhausted",
	}), TaxonomyOverload)

	ErrEmbeddingDimension = classify(Register(&Errno{
		Code: MakeCode(ModuleIndex, CategoryInternal, 0), HTTP: http.StatusInternalServerError,
		Message: "embedding dimension mismatch",
	}), TaxonomyInvariant)
)

// C5 Sync Engine.
var (
	ErrReconcileFailed = classify(Register(&Errno{
		Code: MakeCode(ModuleSync, CategoryInternal, 0), HTTP: http.StatusInternalServerError,
		Message: "reconcile failed",
	}), TaxonomyTransient)

	ErrPendingQueueFull = classify(Register(&Errno{
		Code: MakeCode(ModuleSync, CategoryRateLimit, 0), HTTP: http.StatusTooManyRequests,
		Message: "pending change queue is full",
	}), TaxonomyOverload)
)

// C14 Realtime Gateway.
var (
	ErrBadSignature = classify(Register(&Errno{
		Code: MakeCode(ModuleGateway, CategoryAuth, 0), HTTP: http.StatusUnauthorized,
		Message: "webhook signature validation failed",
	}), TaxonomyUpstream4xx)

	ErrQueueDropped = classify(Register(&Errno{
		Code: MakeCode(ModuleGateway, CategoryRateLimit, 0), HTTP: http.StatusTooManyRequests,
		Message: "inbound turn queue overflowed, oldest message dropped",
	}), TaxonomyOverload)
)
