package daemon

// Wire request/response payloads for the gob-codec RPCs (see codec.go).
// Field names mirror the daemon method signatures directly; there is
// deliberately no separate IDL — the RPC surface is small, closed, and
// owned entirely by this package.

type statusReq struct{ DexPath, Isa, Clc string }
type statusResp struct {
	CompilerFilter      int32
	CompilationReason   string
	LocationDebugString string
}

type neededReq struct {
	DexPath, Isa, Clc string
	Filter            int32
	Trigger           uint32
}
type neededResp struct {
	IsDexoptNeeded    bool
	HasDexCode        bool
	IsVdexUsable      bool
	ArtifactsLocation int32
}

type dexoptReq struct {
	Output            OutputArtifacts
	DexPath, Isa, Clc string
	Filter            int32
	ProfilePath       string
	InputVdexPath     string
	DmPath            string
	Priority          int32
	Options           DexoptOptions
	CancelToken       string
}
type dexoptResp struct {
	Cancelled       bool
	WallMs          int64
	CpuMs           int64
	SizeBytes       int64
	SizeBeforeBytes int64
}

type pathReq struct{ Path string }
type visibilityResp struct{ Visibility int32 }

type rewriteReq struct{ Src, Out, DexPath string }
type boolResp struct{ Value bool }

type usableReq struct{ ProfilePath, DexPath string }

type mergeReq struct {
	Current  []string
	Ref      string
	Out      string
	DexPaths []string
	Opts     MergeProfilesOptions
}

type freedResp struct{ FreedBytes int64 }

type cancelReq struct{ Token string }
type createCancelResp struct{ Token string }

type cleanupReq CleanupRequest
