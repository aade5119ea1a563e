package status

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bufbuild/connect-go"

	"github.com/tusk-run/tusk-runner/internal/rpc"
	"github.com/tusk-run/tusk-runner/internal/rpc/connectjson"
)

const ConnectGetStatusProcedure = "/tusk.runner.v1.RunnerService/GetStatus"

// Provider reports the current status of the agent.
type Provider interface {
	Status() rpc.StatusResponse
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func() rpc.StatusResponse

func (f ProviderFunc) Status() rpc.StatusResponse { return f() }

// NewConnectHandler builds the unary GetStatus handler.
func NewConnectHandler(provider Provider) (string, http.Handler) {
	h := &connectStatusHandler{provider: provider}
	return ConnectGetStatusProcedure, connect.NewUnaryHandler(ConnectGetStatusProcedure, h.handle, connect.WithCodec(connectjson.Codec{}))
}

type connectStatusHandler struct {
	provider Provider
}

func (h *connectStatusHandler) handle(ctx context.Context, req *connect.Request[rpc.StatusRequest]) (*connect.Response[rpc.StatusResponse], error) {
	st := h.provider.Status()
	if id := req.Msg.RunID; id != "" && id != st.RunID {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("run %q is not served here", id))
	}
	return connect.NewResponse(&st), nil
}

// NewClient returns a GetStatus client for the agent at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string) *connect.Client[rpc.StatusRequest, rpc.StatusResponse] {
	return connect.NewClient[rpc.StatusRequest, rpc.StatusResponse](httpClient, baseURL+ConnectGetStatusProcedure, connect.WithCodec(connectjson.Codec{}))
}
