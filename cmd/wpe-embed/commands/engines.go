// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"slices"

	wpeembed "github.com/buke/wpe-embed"
	gojaengine "github.com/buke/wpe-embed/engines/goja"
	quickjsengine "github.com/buke/wpe-embed/engines/quickjs-go"
)

// scriptEngines maps a host.engine config value to its factory.
var scriptEngines = map[string]func() wpeembed.ScriptEngineFactory{
	"goja": func() wpeembed.ScriptEngineFactory {
		return gojaengine.NewFactory(gojaengine.WithEnableConsole())
	},
	"quickjs": func() wpeembed.ScriptEngineFactory {
		return quickjsengine.NewFactory(quickjsengine.WithEnableModuleImport(true))
	},
}

func engineNames() []string {
	names := make([]string, 0, len(scriptEngines))
	for name := range scriptEngines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
