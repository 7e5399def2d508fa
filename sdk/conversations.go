package callkit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/meetscribe/callkit/pkg/core"
)

// ConversationsService calls the backend conversation endpoints. These are
// plain request/response REST calls; all live-call supervision happens in
// CallsService.
type ConversationsService struct {
	client *Client
}

// StartConversationRequest allocates a new conversation.
type StartConversationRequest struct {
	RoomID          string `json:"room_id"`
	UserID          string `json:"user_id"`
	ContextID       string `json:"context_id,omitempty"`
	MeetingPlatform string `json:"meeting_platform"`
}

// StartConversationResponse is the allocation result.
type StartConversationResponse struct {
	ConversationID string `json:"conversation_id"`
	MeetingID      string `json:"meeting_id,omitempty"`
	MeetingURL     string `json:"meeting_url,omitempty"`
	MeetingUIURL   string `json:"meeting_ui_url,omitempty"`
}

// JoinConversationResponse confirms joining an existing conversation.
type JoinConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

// BulkDeleteResponse reports the outcome of a bulk conversation delete.
type BulkDeleteResponse struct {
	DeletedCount    int      `json:"deleted_count"`
	TotalRequested  int      `json:"total_requested"`
	FailedDeletions []string `json:"failed_deletions"`
}

// Start allocates a conversation via POST /conversations/start.
func (s *ConversationsService) Start(ctx context.Context, req *StartConversationRequest) (*StartConversationResponse, error) {
	if s == nil || s.client == nil {
		return nil, core.NewInvalidRequestError("conversations service is not initialized")
	}
	if req == nil {
		return nil, core.NewInvalidRequestError("req must not be nil")
	}

	ctx, span := s.client.startSpan(ctx, "conversations.start")
	defer span.End()

	resp, endpoint, err := s.client.doJSON(ctx, http.MethodPost, "/conversations/start", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeErrorResponse(resp, endpoint, http.MethodPost)
	}

	var decoded StartConversationResponse
	if err := decodeBody(resp, &decoded); err != nil {
		return nil, err
	}
	if strings.TrimSpace(decoded.ConversationID) == "" {
		return nil, &core.Error{
			Type:      core.ErrAPI,
			Message:   "start response missing conversation_id",
			RequestID: requestIDFromHeader(resp.Header),
		}
	}
	return &decoded, nil
}

// Join attaches to an existing conversation via POST /conversations/{id}/join.
func (s *ConversationsService) Join(ctx context.Context, conversationID, userID string) (*JoinConversationResponse, error) {
	if s == nil || s.client == nil {
		return nil, core.NewInvalidRequestError("conversations service is not initialized")
	}
	if strings.TrimSpace(conversationID) == "" {
		return nil, core.NewInvalidRequestError("conversation id must not be empty")
	}

	ctx, span := s.client.startSpan(ctx, "conversations.join")
	defer span.End()

	payload := struct {
		UserID string `json:"user_id"`
	}{UserID: userID}

	resp, endpoint, err := s.client.doJSON(ctx, http.MethodPost, "/conversations/"+conversationID+"/join", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeErrorResponse(resp, endpoint, http.MethodPost)
	}

	var decoded JoinConversationResponse
	if err := decodeBody(resp, &decoded); err != nil {
		return nil, err
	}
	return &decoded, nil
}

// End notifies the backend that a conversation finished via
// POST /conversations/{id}/end.
func (s *ConversationsService) End(ctx context.Context, conversationID string) error {
	return s.notify(ctx, http.MethodPost, "/conversations/"+conversationID+"/end")
}

// Delete removes a conversation via DELETE /conversations/{id}.
func (s *ConversationsService) Delete(ctx context.Context, conversationID string) error {
	return s.notify(ctx, http.MethodDelete, "/conversations/"+conversationID)
}

func (s *ConversationsService) notify(ctx context.Context, method, path string) error {
	if s == nil || s.client == nil {
		return core.NewInvalidRequestError("conversations service is not initialized")
	}

	resp, endpoint, err := s.client.doJSON(ctx, method, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeErrorResponse(resp, endpoint, method)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// BulkDelete removes several conversations via
// DELETE /conversations/bulk-delete.
func (s *ConversationsService) BulkDelete(ctx context.Context, conversationIDs []string) (*BulkDeleteResponse, error) {
	if s == nil || s.client == nil {
		return nil, core.NewInvalidRequestError("conversations service is not initialized")
	}
	if len(conversationIDs) == 0 {
		return nil, core.NewInvalidRequestError("conversation ids must not be empty")
	}

	payload := struct {
		ConversationIDs []string `json:"conversation_ids"`
	}{ConversationIDs: conversationIDs}

	resp, endpoint, err := s.client.doJSON(ctx, http.MethodDelete, "/conversations/bulk-delete", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeErrorResponse(resp, endpoint, http.MethodDelete)
	}

	var decoded BulkDeleteResponse
	if err := decodeBody(resp, &decoded); err != nil {
		return nil, err
	}
	return &decoded, nil
}

func decodeBody(resp *http.Response, v any) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "failed to read response body",
			RequestID: requestIDFromHeader(resp.Header),
		}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "failed to decode response body",
			RequestID: requestIDFromHeader(resp.Header),
		}
	}
	return nil
}
