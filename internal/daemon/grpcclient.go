package daemon

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banksean/dexopt/internal/model"
)

const serviceName = "dexopt.daemon.v1.CompilerDaemon"

func fullMethod(name string) string {
	return fmt.Sprintf("/%s/%s", serviceName, name)
}

// GRPCClient implements Client by calling the compiler daemon over a
// local gRPC connection, instrumented with otelgrpc exactly as the
// teacher wires otelgrpc onto its own grpc stack.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// Dial connects to the compiler daemon's gRPC endpoint (a loopback
// unix socket or localhost port, per deployment). Deadlines are set by
// each call's context, not here.
func Dial(ctx context.Context, target string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("daemon: dial %s: %w", target, err)
	}
	return &GRPCClient{conn: conn}, nil
}

func (c *GRPCClient) Close() error { return c.conn.Close() }

func (c *GRPCClient) invoke(ctx context.Context, method string, req, resp any) error {
	if err := c.conn.Invoke(ctx, fullMethod(method), req, resp); err != nil {
		return fmt.Errorf("daemon: %s: %w", method, err)
	}
	return nil
}

func (c *GRPCClient) GetDexoptStatus(ctx context.Context, dexPath, isa, clc string) (DexoptStatus, error) {
	var resp statusResp
	if err := c.invoke(ctx, "GetDexoptStatus", &statusReq{dexPath, isa, clc}, &resp); err != nil {
		return DexoptStatus{}, err
	}
	return DexoptStatus{
		CompilerFilter:      model.CompilerMode(resp.CompilerFilter),
		CompilationReason:   resp.CompilationReason,
		LocationDebugString: resp.LocationDebugString,
	}, nil
}

func (c *GRPCClient) GetDexoptNeeded(ctx context.Context, dexPath, isa, clc string, filter model.CompilerMode, trigger model.DexoptTrigger) (DexoptNeeded, error) {
	var resp neededResp
	req := &neededReq{DexPath: dexPath, Isa: isa, Clc: clc, Filter: int32(filter), Trigger: uint32(trigger)}
	if err := c.invoke(ctx, "GetDexoptNeeded", req, &resp); err != nil {
		return DexoptNeeded{}, err
	}
	return DexoptNeeded{
		IsDexoptNeeded:    resp.IsDexoptNeeded,
		HasDexCode:        resp.HasDexCode,
		IsVdexUsable:      resp.IsVdexUsable,
		ArtifactsLocation: ArtifactsLocation(resp.ArtifactsLocation),
	}, nil
}

func (c *GRPCClient) Dexopt(ctx context.Context, req DexoptRequest) (DexoptReply, error) {
	token := ""
	if h, ok := req.Cancel.(*grpcCancelHandle); ok && h != nil {
		token = h.token
	}
	wireReq := &dexoptReq{
		Output:        req.Output,
		DexPath:       req.DexPath,
		Isa:           req.Isa,
		Clc:           req.Clc,
		Filter:        int32(req.Filter),
		ProfilePath:   req.ProfilePath,
		InputVdexPath: req.InputVdexPath,
		DmPath:        req.DmPath,
		Priority:      int32(req.Priority),
		Options:       req.Options,
		CancelToken:   token,
	}
	var resp dexoptResp
	if err := c.invoke(ctx, "Dexopt", wireReq, &resp); err != nil {
		return DexoptReply{}, err
	}
	return DexoptReply{
		Cancelled:       resp.Cancelled,
		WallMs:          resp.WallMs,
		CpuMs:           resp.CpuMs,
		SizeBytes:       resp.SizeBytes,
		SizeBeforeBytes: resp.SizeBeforeBytes,
	}, nil
}

type grpcCancelHandle struct {
	client *GRPCClient
	token  string
}

func (h *grpcCancelHandle) Cancel(ctx context.Context) error {
	var resp boolResp
	return h.client.invoke(ctx, "CancelSignal", &cancelReq{Token: h.token}, &resp)
}

func (c *GRPCClient) CreateCancellationSignal(ctx context.Context) (CancelHandle, error) {
	var resp createCancelResp
	if err := c.invoke(ctx, "CreateCancellationSignal", &struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &grpcCancelHandle{client: c, token: resp.Token}, nil
}

func (c *GRPCClient) visibility(ctx context.Context, method, path string) (Visibility, error) {
	var resp visibilityResp
	if err := c.invoke(ctx, method, &pathReq{Path: path}, &resp); err != nil {
		return VisibilityNotFound, err
	}
	return Visibility(resp.Visibility), nil
}

func (c *GRPCClient) GetProfileVisibility(ctx context.Context, path string) (Visibility, error) {
	return c.visibility(ctx, "GetProfileVisibility", path)
}

func (c *GRPCClient) GetDexFileVisibility(ctx context.Context, path string) (Visibility, error) {
	return c.visibility(ctx, "GetDexFileVisibility", path)
}

func (c *GRPCClient) GetDmFileVisibility(ctx context.Context, path string) (Visibility, error) {
	return c.visibility(ctx, "GetDmFileVisibility", path)
}

func (c *GRPCClient) GetArtifactsVisibility(ctx context.Context, path string) (Visibility, error) {
	return c.visibility(ctx, "GetArtifactsVisibility", path)
}

func (c *GRPCClient) CopyAndRewriteProfile(ctx context.Context, src, out, dexPath string) (bool, error) {
	var resp boolResp
	if err := c.invoke(ctx, "CopyAndRewriteProfile", &rewriteReq{src, out, dexPath}, &resp); err != nil {
		return false, err
	}
	return resp.Value, nil
}

func (c *GRPCClient) IsProfileUsable(ctx context.Context, profilePath, dexPath string) (bool, error) {
	var resp boolResp
	if err := c.invoke(ctx, "IsProfileUsable", &usableReq{profilePath, dexPath}, &resp); err != nil {
		return false, err
	}
	return resp.Value, nil
}

func (c *GRPCClient) MergeProfiles(ctx context.Context, current []string, ref string, out string, dexPaths []string, opts MergeProfilesOptions) (bool, error) {
	var resp boolResp
	req := &mergeReq{Current: current, Ref: ref, Out: out, DexPaths: dexPaths, Opts: opts}
	if err := c.invoke(ctx, "MergeProfiles", req, &resp); err != nil {
		return false, err
	}
	return resp.Value, nil
}

func (c *GRPCClient) CommitTmpProfile(ctx context.Context, tmpRef string) error {
	var resp boolResp
	return c.invoke(ctx, "CommitTmpProfile", &pathReq{Path: tmpRef}, &resp)
}

func (c *GRPCClient) DeleteProfile(ctx context.Context, path string) error {
	var resp boolResp
	return c.invoke(ctx, "DeleteProfile", &pathReq{Path: path}, &resp)
}

func (c *GRPCClient) DeleteArtifacts(ctx context.Context, path string) (int64, error) {
	var resp freedResp
	if err := c.invoke(ctx, "DeleteArtifacts", &pathReq{Path: path}, &resp); err != nil {
		return 0, err
	}
	return resp.FreedBytes, nil
}

func (c *GRPCClient) DeleteRuntimeArtifacts(ctx context.Context, path string) (int64, error) {
	var resp freedResp
	if err := c.invoke(ctx, "DeleteRuntimeArtifacts", &pathReq{Path: path}, &resp); err != nil {
		return 0, err
	}
	return resp.FreedBytes, nil
}

func (c *GRPCClient) Cleanup(ctx context.Context, req CleanupRequest) (int64, error) {
	var resp freedResp
	if err := c.invoke(ctx, "Cleanup", (*cleanupReq)(&req), &resp); err != nil {
		return 0, err
	}
	return resp.FreedBytes, nil
}

var _ Client = (*GRPCClient)(nil)
