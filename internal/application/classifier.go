package application

import (
	"txindex/internal/domain"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	addressLength   = 20
	minPrecompileID = 1
	maxPrecompileID = 9
)

// Classify assigns exactly one kind to a trace. It never fails; an undecodable
// target only disables the precompile check.
func Classify(trace *domain.TransactionTrace, diag Diagnostics) domain.TransactionKind {
	if diag == nil {
		diag = NopDiagnostics{}
	}
	if trace.To.IsEmpty() {
		return domain.ContractCreation
	}

	target, err := trace.To.Decode()
	if err != nil {
		diag.Debug("undecodable target address", "tx", txLabel(trace), "to", string(trace.To), "err", err)
	} else if isPrecompile(target) {
		return domain.PrecompileCall
	}

	hasCalls := len(trace.Calls) > 0
	hasData := len(trace.Input) > 0
	switch {
	case hasCalls && hasData:
		return domain.ContractCallWithData
	case hasCalls:
		return domain.EthTransferToContract
	case hasData:
		diag.Debug("payload sent without contract calls", "tx", txLabel(trace))
		return domain.ContractCallWithData
	default:
		return domain.EthTransfer
	}
}

func isPrecompile(addr []byte) bool {
	if len(addr) != addressLength {
		return false
	}
	for _, b := range addr[:addressLength-1] {
		if b != 0 {
			return false
		}
	}
	last := addr[addressLength-1]
	return last >= minPrecompileID && last <= maxPrecompileID
}

func txLabel(trace *domain.TransactionTrace) string {
	if len(trace.Hash) == 0 {
		return "<no hash>"
	}
	return hexutil.Encode(trace.Hash)
}
