package safeswap

// Network is the chain the service is bound to.
type Network struct {
	Name        string `json:"name"`
	ChainID     int64  `json:"chain_id"`
	NativeToken string `json:"native_token"`
	ShortName   string `json:"short_name,omitempty"`
}

// Account is the server-side session of a wallet user.
type Account struct {
	UserAddress  string   `json:"user_address"`
	LoggedIn     bool     `json:"logged_in"`
	State        string   `json:"state"`
	SafeAddress  string   `json:"safe_address"`
	SaltNonce    string   `json:"salt_nonce,omitempty"`
	Owners       []string `json:"owners,omitempty"`
	Threshold    uint64   `json:"threshold,omitempty"`
	DeploymentTx string   `json:"deployment_tx"`
	CreatedAt    int64    `json:"created_at"`
	UpdatedAt    int64    `json:"updated_at"`
}

// SafeInfo is the predicted or deployed Safe of the caller.
type SafeInfo struct {
	Address   string   `json:"address"`
	SaltNonce string   `json:"salt_nonce"`
	Owners    []string `json:"owners"`
	Threshold uint64   `json:"threshold"`
	State     string   `json:"state"`
	AppURL    string   `json:"app_url,omitempty"`
}

// SafeStatus is a fresh on-chain reading of the Safe.
type SafeStatus struct {
	Address   string   `json:"address"`
	Deployed  bool     `json:"deployed"`
	Owners    []string `json:"owners"`
	Threshold uint64   `json:"threshold"`
	State     string   `json:"state"`
}

// DeployResult reports a synchronous deployment.
type DeployResult struct {
	SafeAddress     string `json:"safe_address"`
	TxHash          string `json:"tx_hash"`
	BlockNumber     uint64 `json:"block_number"`
	AlreadyDeployed bool   `json:"already_deployed"`
}

// SwapResult reports a synchronous swap and the stage it reached.
type SwapResult struct {
	SafeAddress string `json:"safe_address"`
	OrderUID    string `json:"order_uid"`
	SellAmount  string `json:"sell_amount"`
	BuyAmount   string `json:"buy_amount"`
	ValidTo     uint32 `json:"valid_to"`
	SafeTxHash  string `json:"safe_tx_hash,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	Stage       string `json:"stage"`
}

// TaskResult is what a queued sequence produced, complete or partial.
type TaskResult struct {
	SafeAddress string `json:"safe_address,omitempty"`
	OrderUID    string `json:"order_uid,omitempty"`
	SafeTxHash  string `json:"safe_tx_hash,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	Stage       string `json:"stage,omitempty"`
	ChainID     string `json:"chain_id,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
}

// Task is a queued sequence.
type Task struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	UserAddress string         `json:"user_address"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      string         `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxRetries  int            `json:"max_retries"`
	LastError   string         `json:"last_error,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	Result      *TaskResult    `json:"result,omitempty"`
	CreatedAt   int64          `json:"created_at"`
	UpdatedAt   int64          `json:"updated_at"`
}

// Done reports whether the task reached a terminal status.
func (t *Task) Done() bool {
	return t != nil && (t.Status == "succeeded" || t.Status == "failed")
}

// TaskStats summarises the caller's tasks.
type TaskStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// TaskList is the response of ListTasks.
type TaskList struct {
	Tasks []*Task   `json:"tasks"`
	Stats TaskStats `json:"stats"`
}

// SafeResponse is returned by CreateSafe and CheckSafe. Exactly one of
// Deployment and Task is set after CreateSafe unless the Safe already
// existed.
type SafeResponse struct {
	Safe       *SafeInfo     `json:"safe,omitempty"`
	Status     *SafeStatus   `json:"status,omitempty"`
	Deployment *DeployResult `json:"deployment,omitempty"`
	Task       *Task         `json:"task,omitempty"`
}

// SwapResponse is returned by InitSwap.
type SwapResponse struct {
	Swap *SwapResult `json:"swap,omitempty"`
	Task *Task       `json:"task,omitempty"`
}

// Balance is one native balance reading.
type Balance struct {
	Address string `json:"address"`
	Wei     string `json:"wei,omitempty"`
	Display string `json:"display"`
	Error   string `json:"error,omitempty"`
}

// Wallet is the wallet card view.
type Wallet struct {
	Network    Network  `json:"network"`
	User       Balance  `json:"user"`
	Safe       *Balance `json:"safe,omitempty"`
	AgentOwner string   `json:"agent_owner"`
	SafeAppURL string   `json:"safe_app_url,omitempty"`
	SafeState  string   `json:"safe_state"`
}
