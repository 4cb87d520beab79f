package rpc

import rpc "github.com/tendermint/tendermint/rpc/jsonrpc/server"

var Routes = map[string]*rpc.RPCFunc{
	"chains":    rpc.NewRPCFunc(Chains, ""),
	"status":    rpc.NewRPCFunc(Status, "chain_id,height"),
	"directory": rpc.NewRPCFunc(Directory, "chain_id"),
	"metrics":   rpc.NewRPCFunc(JSONMetrics, "label"),
}
