package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/docstack/docstack-backend/internal/pkg/errors"
	"github.com/docstack/docstack-backend/internal/platform/ctxutil"
	"github.com/docstack/docstack-backend/internal/platform/logger"
	"github.com/docstack/docstack-backend/internal/platform/vectorstore"
)

const (
	payloadContentKey = "_ds_content"
	payloadRecordKey  = "_ds_record_id"
	maxErrorBodyBytes = 1024
)

var pointIDNamespaceUUID = uuid.MustParse("6f3a6f41-98cd-4f2a-9c6e-3f4a1e2b7d90")

// Store implements the vector store contract against a Qdrant collection
// over its HTTP API. Record IDs are mapped onto deterministic point UUIDs;
// the original ID travels in the payload.
type Store struct {
	log      *logger.Logger
	cfg      Config
	embedder vectorstore.Embedder
	baseURL  string
	distance string
	http     *http.Client
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type searchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func NewStore(log *logger.Logger, cfg Config, embedder vectorstore.Embedder) (vectorstore.Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	s := &Store{
		log:      log.With("service", "QdrantVectorStore"),
		cfg:      cfg,
		embedder: embedder,
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		http:     &http.Client{Timeout: 10 * time.Second},
	}
	if err := s.verifyReady(context.Background()); err != nil {
		return nil, err
	}

	log.Info("Qdrant vector store selected",
		"provider", "qdrant",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"vector_dim", cfg.VectorDim,
		"distance", s.distance,
	)
	return s, nil
}

func (s *Store) Upsert(ctx context.Context, records []vectorstore.Record) error {
	const op = "upsert"
	if len(records) == 0 {
		return nil
	}

	texts := make([]string, 0, len(records))
	for _, r := range records {
		texts = append(texts, r.Content)
	}
	embeddings, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return &apperrors.StoreWriteError{Op: op, Err: err}
	}

	points := make([]map[string]any, 0, len(records))
	for i, r := range records {
		recordID := strings.TrimSpace(r.ID)
		if recordID == "" {
			return &apperrors.StoreWriteError{Op: op, Err: opErr(op, OperationErrorValidation, "record id is required", nil)}
		}
		if s.cfg.VectorDim > 0 && len(embeddings[i]) != s.cfg.VectorDim {
			return &apperrors.StoreWriteError{Op: op, Err: opErr(
				op,
				OperationErrorValidation,
				fmt.Sprintf("record %q dimension mismatch: expected=%d got=%d", recordID, s.cfg.VectorDim, len(embeddings[i])),
				nil,
			)}
		}
		payload := make(map[string]any, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload[payloadContentKey] = r.Content
		payload[payloadRecordKey] = recordID
		points = append(points, map[string]any{
			"id":      pointID(recordID),
			"vector":  embeddings[i],
			"payload": payload,
		})
	}

	req := map[string]any{"points": points}
	if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil); err != nil {
		return &apperrors.StoreWriteError{Op: op, Err: err}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, query string, topK int, filter map[string]any) ([]vectorstore.Match, error) {
	const op = "search"
	if topK <= 0 {
		return []vectorstore.Match{}, nil
	}

	if strings.TrimSpace(query) == "" {
		return s.scroll(ctx, topK, filter)
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, &apperrors.StoreReadError{Op: op, Err: err}
	}

	req := map[string]any{
		"vector":       vecs[0],
		"limit":        topK,
		"with_payload": true,
		"with_vector":  false,
		"filter":       translateFilter(filter),
	}
	var rawResults []searchResultItem
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &rawResults); err != nil {
		return nil, &apperrors.StoreReadError{Op: op, Err: err}
	}

	out := make([]vectorstore.Match, 0, len(rawResults))
	for _, item := range rawResults {
		m, ok := s.toMatch(item, s.normalizeScore(item.Score))
		if ok {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

// scroll serves filter-only searches through the scroll API, which matches
// on payload without a query vector.
func (s *Store) scroll(ctx context.Context, limit int, filter map[string]any) ([]vectorstore.Match, error) {
	const op = "scroll"
	req := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
		"filter":       translateFilter(filter),
	}
	var result struct {
		Points []searchResultItem `json:"points"`
	}
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/scroll"), req, &result); err != nil {
		return nil, &apperrors.StoreReadError{Op: op, Err: err}
	}

	out := make([]vectorstore.Match, 0, len(result.Points))
	for _, item := range result.Points {
		m, ok := s.toMatch(item, 1)
		if ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, ids []string) error {
	const op = "delete"
	pointIDs := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		recordID := strings.TrimSpace(id)
		if recordID == "" {
			continue
		}
		pid := pointID(recordID)
		if _, exists := seen[pid]; exists {
			continue
		}
		seen[pid] = struct{}{}
		pointIDs = append(pointIDs, pid)
	}
	if len(pointIDs) == 0 {
		return nil
	}

	req := map[string]any{"points": pointIDs}
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil); err != nil {
		return &apperrors.StoreWriteError{Op: op, Err: err}
	}
	return nil
}

func (s *Store) verifyReady(ctx context.Context) error {
	const op = "bootstrap_verify"

	readyReq, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, s.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	readyResp, err := s.http.Do(readyReq)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	_ = readyResp.Body.Close()
	if readyResp.StatusCode < 200 || readyResp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: readyResp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", readyResp.StatusCode),
		}
	}

	var result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &result); err != nil {
		return err
	}

	size := result.Config.Params.Vectors.Size
	if size != 0 && size != s.cfg.VectorDim {
		return &OperationError{
			Code:      OperationErrorValidation,
			Operation: op,
			Message:   fmt.Sprintf("qdrant collection %q vector size mismatch: expected=%d actual=%d", s.cfg.Collection, s.cfg.VectorDim, size),
		}
	}
	s.distance = strings.TrimSpace(result.Config.Params.Vectors.Distance)
	return nil
}

func (s *Store) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(env.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func (s *Store) toMatch(item searchResultItem, score float64) (vectorstore.Match, bool) {
	recordID, _ := item.Payload[payloadRecordKey].(string)
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return vectorstore.Match{}, false
	}
	content, _ := item.Payload[payloadContentKey].(string)
	metadata := make(map[string]any, len(item.Payload))
	for k, v := range item.Payload {
		if k == payloadContentKey || k == payloadRecordKey {
			continue
		}
		metadata[k] = v
	}
	return vectorstore.Match{ID: recordID, Content: content, Score: score, Metadata: metadata}, true
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

// translateFilter builds a conjunction of payload equality matches.
func translateFilter(filter map[string]any) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	must := make([]any, 0, len(filter))
	for k, v := range filter {
		must = append(must, map[string]any{
			"key":   k,
			"match": map[string]any{"value": v},
		})
	}
	return map[string]any{"must": must}
}

func pointID(recordID string) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(recordID)).String()
}

func (s *Store) collectionPath(suffix string) string {
	path := "/collections/" + s.cfg.Collection
	if strings.TrimSpace(suffix) == "" {
		return path
	}
	return path + suffix
}

func (s *Store) normalizeScore(score float64) float64 {
	switch strings.ToLower(strings.TrimSpace(s.distance)) {
	case "euclid", "manhattan":
		if score < 0 {
			score = -score
		}
		return 1.0 / (1.0 + score)
	default:
		if score < 0 {
			return 0
		}
		if score > 1 {
			return 1
		}
		return score
	}
}
