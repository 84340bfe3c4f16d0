package handlers

import (
	"bytes"
	"context"
	"encoding/base64"

	"github.com/signbase/signbase/internal/blob"
	"github.com/signbase/signbase/internal/docstore"
	"github.com/signbase/signbase/internal/errcode"
	"github.com/signbase/signbase/internal/session"
)

// signsCollection holds one document per recorded contribution.
const signsCollection = "signs"

// identityResolver returns the identity attached to the request context.
// Split out so tests can inject one without the auth middleware.
type identityResolver func(ctx context.Context) *session.Identity

// ContributionHandler implements the recorded-video flow: one call stores
// the encoded payload in the blob store and its catalogue record in the
// document store, the way the upload page drives the hosted service.
type ContributionHandler struct {
	docs     *docstore.Store
	blobs    *blob.Store
	identity identityResolver
}

// NewContributionHandler creates a new contribution handler.
func NewContributionHandler(docs *docstore.Store, blobs *blob.Store, identity identityResolver) *ContributionHandler {
	return &ContributionHandler{docs: docs, blobs: blobs, identity: identity}
}

// CreateContributionRequest records one signed word.
type CreateContributionRequest struct {
	Word         string `json:"word"`
	SignLanguage string `json:"signLanguage"`
	ContentType  string `json:"contentType"`
	// Video is the base64-encoded, already-encoded video payload produced
	// by the capture widget.
	Video string `json:"video"`
}

// CreateContributionResponse carries the catalogue record and blob URI.
type CreateContributionResponse struct {
	Document docstore.Document `json:"document"`
	URI      string            `json:"uri"`
}

// CreateContribution validates the metadata, stores the payload under
// videos/<signLanguage>/<identity>_<word>_<ms>.webm and adds the catalogue
// document keyed by the authenticated identity.
func (h *ContributionHandler) CreateContribution(ctx context.Context, req CreateContributionRequest) (*CreateContributionResponse, error) {
	identity := h.identity(ctx)
	if identity == nil {
		return nil, errcode.Unauthorized()
	}
	if req.Word == "" {
		return nil, errcode.InvalidArgument("word is required")
	}
	if req.SignLanguage == "" {
		return nil, errcode.InvalidArgument("signLanguage is required")
	}
	payload, err := base64.StdEncoding.DecodeString(req.Video)
	if err != nil {
		return nil, errcode.InvalidArgument("video payload is not valid base64")
	}

	path := "videos/" + req.SignLanguage + "/" + blob.ObjectName(identity.ID.String(), req.Word, ".webm")
	handle, err := h.blobs.Put(ctx, path, bytes.NewReader(payload), req.ContentType, map[string]string{
		"word":         req.Word,
		"signLanguage": req.SignLanguage,
		"userId":       identity.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	doc, err := h.docs.Add(signsCollection, docstore.Fields{
		"userId":       docstore.String(identity.ID.String()),
		"word":         docstore.String(req.Word),
		"signLanguage": docstore.String(req.SignLanguage),
		"videoPath":    docstore.String(handle.Path),
		"createdAt":    docstore.Time(h.docs.ServerTimestamp()),
	})
	if err != nil {
		// The payload is already stored; remove it so a failed catalogue
		// write does not leave an orphan blob.
		_ = h.blobs.Delete(handle.Path)
		return nil, err
	}
	return &CreateContributionResponse{Document: doc, URI: handle.URI}, nil
}

// ProfileRequest is an empty request for the caller's profile.
type ProfileRequest struct{}

// ProfileResponse carries the identity and its contributions.
type ProfileResponse struct {
	Identity      *session.Identity   `json:"identity"`
	Contributions []docstore.Document `json:"contributions"`
}

// Profile returns the authenticated identity plus every catalogue record
// it contributed, in insertion order.
func (h *ContributionHandler) Profile(ctx context.Context, req ProfileRequest) (*ProfileResponse, error) {
	identity := h.identity(ctx)
	if identity == nil {
		return nil, errcode.Unauthorized()
	}
	docs, err := h.docs.Query(signsCollection, docstore.Predicate{
		Field: "userId",
		Op:    docstore.OpEqual,
		Value: docstore.String(identity.ID.String()),
	})
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []docstore.Document{}
	}
	return &ProfileResponse{Identity: identity, Contributions: docs}, nil
}

// DeleteContributionRequest removes one contribution and its payload.
type DeleteContributionRequest struct {
	ID string `path:"id"`
}

// DeleteContributionResponse is an empty response.
type DeleteContributionResponse struct{}

// DeleteContribution removes the catalogue record and its stored video.
// Only the contributing identity may delete it.
func (h *ContributionHandler) DeleteContribution(ctx context.Context, req DeleteContributionRequest) (*DeleteContributionResponse, error) {
	identity := h.identity(ctx)
	if identity == nil {
		return nil, errcode.Unauthorized()
	}
	doc, ok, err := h.docs.Get(signsCollection, req.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errcode.NotFound("contribution")
	}
	if owner, _ := doc.Fields["userId"].AsString(); owner != identity.ID.String() {
		return nil, errcode.Unauthorized()
	}
	if path, ok := doc.Fields["videoPath"].AsString(); ok {
		if err := h.blobs.Delete(path); err != nil {
			return nil, err
		}
	}
	if err := h.docs.Delete(signsCollection, req.ID); err != nil {
		return nil, err
	}
	return &DeleteContributionResponse{}, nil
}
