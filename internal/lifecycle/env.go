package lifecycle

import (
	"encoding/hex"

	"gator/internal/isolation"
)

// buildEnv constructs the agent environment variables per SPEC_FULL.md §6:
// the scoped token is required, the token secret is passed through in hex
// so the agent binary can validate its own scoped token, and the
// container id / sandbox flag are only present for containerized attempts.
func buildEnv(scopedToken string, secret []byte, databaseURL string, ws isolation.WorkspaceInfo) map[string]string {
	env := map[string]string{
		"GATOR_AGENT_TOKEN":  scopedToken,
		"GATOR_TOKEN_SECRET": hex.EncodeToString(secret),
	}
	if databaseURL != "" {
		env["GATOR_DATABASE_URL"] = databaseURL
	}
	if ws.ContainerID != "" {
		env["GATOR_CONTAINER_ID"] = ws.ContainerID
		env["GATOR_SANDBOXED"] = "true"
	}
	return env
}
