package abci

type RequestInfo struct{}
type ResponseInfo struct {
	LastBlockHeight  uint64
	LastBlockAppHash [32]byte
	LastBlockTime    int64
}

type RequestPrepareProposal struct {
	Height     uint64
	MaxTxBytes int64
}
type ResponsePrepareProposal struct{ Txs [][]byte }

type RequestProcessProposal struct {
	Height uint64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }

type RequestFinalizeBlock struct {
	Height    uint64
	Timestamp int64 // Unix timestamp in seconds
	Txs       [][]byte
}

// TxResult is the outcome of one instruction. Code 0 is success; Log holds
// the error text otherwise.
type TxResult struct {
	Code uint32
	Log  string
}

type ResponseFinalizeBlock struct {
	TxResults []TxResult
	AppHash   [32]byte // Hash of application state after execution
}

// Application is driven by the Sequencer. FinalizeBlock must either
// persist the block and its state or return an error leaving the
// application at its previous height.
type Application interface {
	Info(RequestInfo) ResponseInfo
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) (ResponseFinalizeBlock, error)
}
