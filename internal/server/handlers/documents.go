package handlers

import (
	"context"
	"time"

	"github.com/signbase/signbase/internal/docstore"
)

// DocumentHandler exposes the document store.
type DocumentHandler struct {
	docs *docstore.Store
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(docs *docstore.Store) *DocumentHandler {
	return &DocumentHandler{docs: docs}
}

// AddDocumentRequest adds a document with a store-assigned id.
type AddDocumentRequest struct {
	Collection string          `path:"collection"`
	Fields     docstore.Fields `json:"fields"`
}

// AddDocumentResponse carries the stored document.
type AddDocumentResponse struct {
	Document docstore.Document `json:"document"`
}

// AddDocument appends a document to the collection.
func (h *DocumentHandler) AddDocument(ctx context.Context, req AddDocumentRequest) (*AddDocumentResponse, error) {
	doc, err := h.docs.Add(req.Collection, req.Fields)
	if err != nil {
		return nil, err
	}
	return &AddDocumentResponse{Document: doc}, nil
}

// GetDocumentRequest fetches one document.
type GetDocumentRequest struct {
	Collection string `path:"collection"`
	ID         string `path:"id"`
}

// GetDocumentResponse reports existence plus the document when present.
type GetDocumentResponse struct {
	Exists   bool               `json:"exists"`
	Document *docstore.Document `json:"document,omitempty"`
}

// GetDocument returns a document by id with an existence flag; a missing
// id is not an error.
func (h *DocumentHandler) GetDocument(ctx context.Context, req GetDocumentRequest) (*GetDocumentResponse, error) {
	doc, ok, err := h.docs.Get(req.Collection, req.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &GetDocumentResponse{}, nil
	}
	return &GetDocumentResponse{Exists: true, Document: &doc}, nil
}

// SetDocumentRequest upserts a document under an explicit id.
type SetDocumentRequest struct {
	Collection string          `path:"collection"`
	ID         string          `path:"id"`
	Fields     docstore.Fields `json:"fields"`
}

// SetDocumentResponse is an empty response.
type SetDocumentResponse struct{}

// SetDocument replaces the document if the id exists, else inserts it.
func (h *DocumentHandler) SetDocument(ctx context.Context, req SetDocumentRequest) (*SetDocumentResponse, error) {
	if err := h.docs.Set(req.Collection, req.ID, req.Fields); err != nil {
		return nil, err
	}
	return &SetDocumentResponse{}, nil
}

// UpdateDocumentRequest shallow-merges fields into a document.
type UpdateDocumentRequest struct {
	Collection string          `path:"collection"`
	ID         string          `path:"id"`
	Fields     docstore.Fields `json:"fields"`
}

// UpdateDocumentResponse is an empty response.
type UpdateDocumentResponse struct{}

// UpdateDocument merges the patch; a missing id is a silent no-op unless
// the store runs with strict updates.
func (h *DocumentHandler) UpdateDocument(ctx context.Context, req UpdateDocumentRequest) (*UpdateDocumentResponse, error) {
	if err := h.docs.Update(req.Collection, req.ID, req.Fields); err != nil {
		return nil, err
	}
	return &UpdateDocumentResponse{}, nil
}

// DeleteDocumentRequest removes a document.
type DeleteDocumentRequest struct {
	Collection string `path:"collection"`
	ID         string `path:"id"`
}

// DeleteDocumentResponse is an empty response.
type DeleteDocumentResponse struct{}

// DeleteDocument removes the document if present. Idempotent.
func (h *DocumentHandler) DeleteDocument(ctx context.Context, req DeleteDocumentRequest) (*DeleteDocumentResponse, error) {
	if err := h.docs.Delete(req.Collection, req.ID); err != nil {
		return nil, err
	}
	return &DeleteDocumentResponse{}, nil
}

// QueryRequest filters a collection by one field/operator/value triple.
type QueryRequest struct {
	Collection string         `path:"collection"`
	Field      string         `json:"field"`
	Op         string         `json:"op"`
	Value      docstore.Value `json:"value"`
}

// QueryResponse carries the matching documents in insertion order.
type QueryResponse struct {
	Documents []docstore.Document `json:"documents"`
}

// Query runs the predicate against the collection.
func (h *DocumentHandler) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	docs, err := h.docs.Query(req.Collection, docstore.Predicate{
		Field: req.Field,
		Op:    docstore.Op(req.Op),
		Value: req.Value,
	})
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []docstore.Document{}
	}
	return &QueryResponse{Documents: docs}, nil
}

// ListDocumentsRequest lists the first documents of a collection.
type ListDocumentsRequest struct {
	Collection string `path:"collection"`
	OrderBy    string `query:"orderBy"`
	Limit      int    `query:"limit"`
}

// ListDocuments returns the first limit documents in storage order. The
// orderBy parameter is accepted but not applied.
func (h *DocumentHandler) ListDocuments(ctx context.Context, req ListDocumentsRequest) (*QueryResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	docs, err := h.docs.QueryOrdered(req.Collection, req.OrderBy, limit)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []docstore.Document{}
	}
	return &QueryResponse{Documents: docs}, nil
}

// TimestampRequest is an empty request for a server timestamp.
type TimestampRequest struct{}

// TimestampResponse carries the timestamp token.
type TimestampResponse struct {
	Timestamp time.Time `json:"timestamp"`
}

// Timestamp returns a monotonically increasing wall-clock token usable as
// a field value.
func (h *DocumentHandler) Timestamp(ctx context.Context, req TimestampRequest) (*TimestampResponse, error) {
	return &TimestampResponse{Timestamp: h.docs.ServerTimestamp()}, nil
}
