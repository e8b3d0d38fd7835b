/*
Package sandbox provides the isolated execution context of one embedded
application.

# Overview

Each Context owns a goja VM and three isolation layers:

  - Scope: two-tier global resolution. Reads check the application's local
    overlay first and fall back to the host's SharedGlobals; writes land in
    the overlay unless the name is on the escape allow-list.
  - StyleScoper: rewrites every rule of the application's style sheets so
    its selectors only match inside micro-app[name=<app>].
  - DOMScope: document lookups confined to the container subtree, with
    head and body resolving to micro-app-head and micro-app-body.

Scripts run inside

	(function(window, self, globalThis, document){with(window){ ... }})

where window is a dynamic object backed by the Scope.

# Failure semantics

Script errors, timeouts and panics in host callbacks are caught at the
boundary and returned as *ScriptError. They never reach the host or a
sibling application.

# Concurrency

A VM is not goroutine safe. Every VM access runs on the context's own loop;
bus callbacks raised while a script runs are queued behind it.
*/
package sandbox
