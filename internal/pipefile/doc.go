// Package pipefile parses Pipefile text into a validated
// model.PipelineDefinition.
//
// # The Pipefile format
//
// A Pipefile is a single `pipeline` block with metadata, optional
// trigger declarations, and an ordered list of steps:
//
//	pipeline {
//	  name: "build-and-deploy";
//	  version: "1.0";
//	  triggers {
//	    git {
//	      on_push: true;
//	      on_tag: true;
//	      branches: ["main", "release/*"];
//	      tags: ["v*"];
//	    }
//	  }
//	  steps {
//	    step "build" {
//	      run: """
//	        go build ./...
//	      """;
//	    }
//	    step "lint" {
//	      run: """golangci-lint run""";
//	      allow_failure: true;
//	    }
//	  }
//	}
//
// Each non-empty line of a step's `run` block is one command, executed
// sequentially. `#` starts a comment that runs to the end of the line.
//
// # Parsing model
//
// The package is a hand-written lexer plus recursive-descent parser.
// Parsing is pure: the same text always yields a structurally identical
// definition, and every failure — lexical, syntactic, or semantic — is
// reported as a *ParseError carrying the line and column of the
// offending token together with what was expected there.
//
// Trigger declarations expand into one model.TriggerRule per enabled
// event kind and pattern: branch-scoped kinds (push, pull_request,
// merge, branch_create, branch_delete) take one rule per `branches`
// entry, tag-scoped kinds (tag, release) one per `tags` entry. When the
// list is omitted the kind gets a single unconditional rule.
package pipefile
