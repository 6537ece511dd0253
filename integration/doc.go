// Package integration provides a reusable wiring layer for embedding the
// relay into third-party Go programs.
//
// It builds the model client, the tool host (in-process tools plus MCP
// servers from tools.manifest), the agent engine, the session store and the
// router, and hands back a relay.Relay that the host drives with its own
// delivery target.
//
// Configuration is explicit via Config.Set(...) / Config.Overrides.
// The embedding host owns env/config-file loading and passes resolved values in.
//
// Note: this package currently uses the process-global Viper instance.
package integration
