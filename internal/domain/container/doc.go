/*
Package container models the host page and the micro-app elements that
embed applications in it.

An Element behaves like a custom element: appending it to the Page fires
the Observer's Attach callback, removing it fires Detach. Lifecycle events
are dispatched on the element to listeners registered by the host or by the
orchestrator waiting for teardown to finish.
*/
package container
