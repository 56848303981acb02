// Package config loads and validates bridge configuration.
//
// Configuration is YAML decoded on top of Default. Unknown keys are
// rejected, and constraints are checked with struct tags:
//
//	handles:
//	  max: 0            # 0 = full int32 range
//	async:
//	  high_water: 1024
//	callbacks:
//	  max_slots: 4096
//	script:
//	  libraries: [base, table, string, math, coroutine]
//	  chunk_name: script
//	  console: true
//	fastpath:
//	  max_arity: 6
//	log:
//	  level: info
//	  development: false
//
// Schema emits the matching JSON schema for editor integration.
package config
