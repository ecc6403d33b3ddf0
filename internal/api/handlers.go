package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"SafeSwap-Chain/internal/account"
	"SafeSwap-Chain/internal/auth"
	xerrors "SafeSwap-Chain/internal/errors"
	"SafeSwap-Chain/internal/task"
	"SafeSwap-Chain/internal/workflow"

	"github.com/ethereum/go-ethereum/common"
)

// IdempotencyHeader 是排队任务的幂等键，同一用户重复提交返回同一任务。
const IdempotencyHeader = "Idempotency-Key"

// ErrorBody 是所有失败响应的 JSON 结构。
type ErrorBody struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SafeResponse 是创建与查询 Safe 的响应。
type SafeResponse struct {
	Safe       *workflow.SafeInfo     `json:"safe,omitempty"`
	Status     *workflow.SafeStatus   `json:"status,omitempty"`
	Deployment *workflow.DeployResult `json:"deployment,omitempty"`
	Task       *task.Task             `json:"task,omitempty"`
}

// SwapResponse 是发起兑换的响应。
type SwapResponse struct {
	Swap *workflow.SwapResult `json:"swap,omitempty"`
	Task *task.Task           `json:"task,omitempty"`
}

// TaskListResponse 是任务列表的响应。
type TaskListResponse struct {
	Tasks []*task.Task   `json:"tasks"`
	Stats task.TaskStats `json:"stats"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	user := subjectAddress(r)
	switch r.Method {
	case http.MethodPost:
		acct, err := s.wallet.Login(r.Context(), user)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, acct)
	case http.MethodDelete:
		if err := s.wallet.Logout(r.Context(), user); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodPost, http.MethodDelete)
	}
}

func (s *Server) handleSafe(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleCheckSafe(w, r)
	case http.MethodPost:
		s.handleCreateSafe(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleCreateSafe 预测并记录 Safe 地址，随后部署（排队或同步）。
func (s *Server) handleCreateSafe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := subjectAddress(r)

	info, err := s.wallet.Provision(ctx, user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := SafeResponse{Safe: info}
	if info.State == account.StateDeployed {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if s.async(r) {
		submitted, err := s.tasks.Submit(ctx, task.SubmitRequest{
			ID:          idempotentID(user, r),
			Kind:        task.KindDeploySafe,
			UserAddress: user,
			Metadata:    map[string]any{"safe_address": info.Address.Hex()},
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
		resp.Task = submitted
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	deployment, err := s.wallet.Deploy(ctx, user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp.Deployment = deployment
	if acct, err := s.wallet.Account(ctx, user); err == nil {
		resp.Safe.State = acct.State
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheckSafe(w http.ResponseWriter, r *http.Request) {
	status, err := s.wallet.Status(r.Context(), subjectAddress(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SafeResponse{Status: status})
}

func (s *Server) handleSwaps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ctx := r.Context()
	user := subjectAddress(r)

	if s.async(r) {
		submitted, err := s.tasks.Submit(ctx, task.SubmitRequest{
			ID:          idempotentID(user, r),
			Kind:        task.KindInitSwap,
			UserAddress: user,
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, SwapResponse{Task: submitted})
		return
	}

	result, err := s.wallet.InitSwap(ctx, user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SwapResponse{Swap: result})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	wallet, err := s.wallet.Balances(r.Context(), subjectAddress(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.tasks == nil {
		s.writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务队列未启用"))
		return
	}

	query := r.URL.Query()
	opts := []task.ListOption{task.WithUserAddress(subjectAddress(r).Hex())}
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, task.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			opts = append(opts, task.WithOffset(parsed))
		}
	}
	if raw := splitList(query["status"]); len(raw) > 0 {
		statuses := make([]task.Status, 0, len(raw))
		for _, v := range raw {
			statuses = append(statuses, task.Status(v))
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := splitList(query["kind"]); len(raw) > 0 {
		kinds := make([]task.Kind, 0, len(raw))
		for _, v := range raw {
			kinds = append(kinds, task.Kind(v))
		}
		opts = append(opts, task.WithKinds(kinds...))
	}

	ctx := r.Context()
	tasks, err := s.tasks.List(ctx, opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stats, err := s.tasks.Stats(ctx, task.WithUserAddress(subjectAddress(r).Hex()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, TaskListResponse{Tasks: tasks, Stats: stats})
}

// handleTaskDetail 返回调用者自己的任务。
func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.tasks == nil {
		s.writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务队列未启用"))
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/"), "/")
	if id == "" {
		s.writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少任务 ID"))
		return
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !strings.EqualFold(found.UserAddress, subjectAddress(r).Hex()) {
		s.writeError(w, task.ErrTaskNotFound)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// async 判断请求是否走任务队列；?sync=true 强制同步执行。
func (s *Server) async(r *http.Request) bool {
	if s.tasks == nil {
		return false
	}
	sync, _ := strconv.ParseBool(r.URL.Query().Get("sync"))
	return !sync
}

func (s *Server) denied(w http.ResponseWriter, _ *http.Request, err error) {
	s.writeError(w, xerrors.Wrap(xerrors.CodeUnauthenticated, err, "身份认证失败"))
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := statusOf(code)
	body := ErrorBody{
		Code:      string(code),
		Message:   err.Error(),
		Retryable: xerrors.RetryableError(err),
		Metadata:  xerrors.MetadataOf(err),
	}
	if status >= http.StatusInternalServerError {
		s.log.Warn("请求失败", "code", body.Code, "status", status, "error", body.Message)
	}
	writeJSON(w, status, body)
}

func statusOf(code xerrors.Code) int {
	switch code {
	case task.CodeTaskNotFound:
		return http.StatusNotFound
	case task.CodeTaskValidation:
		return http.StatusBadRequest
	case task.CodeTaskConflict, task.CodeTaskCompleted:
		return http.StatusConflict
	default:
		return xerrors.HTTPStatus(code)
	}
}

// idempotentID 将幂等键限定在调用者名下，不同用户的相同键互不影响。
func idempotentID(user common.Address, r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" {
		return ""
	}
	return strings.ToLower(user.Hex()) + ":" + key
}

func subjectAddress(r *http.Request) common.Address {
	if subject := auth.SubjectFromContext(r.Context()); subject != nil {
		return subject.Address
	}
	return common.Address{}
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, ErrorBody{
		Code:    string(xerrors.CodeInvalidArgument),
		Message: "仅支持 " + strings.Join(allowed, "/"),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
