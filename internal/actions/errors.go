package actions

import "errors"

var (
	// ErrActionNotFound indicates no registered action matches the name.
	ErrActionNotFound = errors.New("action not found")

	// ErrActionAlreadyRegistered indicates a duplicate registration.
	ErrActionAlreadyRegistered = errors.New("action already registered")

	// ErrActionNameEmpty indicates an action without a name.
	ErrActionNameEmpty = errors.New("action name is empty")

	// ErrActionHandlerNil indicates an action without a handler.
	ErrActionHandlerNil = errors.New("action handler is nil")

	// ErrMissingRequiredArg indicates a required argument was absent.
	ErrMissingRequiredArg = errors.New("missing required argument")

	// ErrNoPluginMatch indicates the plugin fallback found no plugin
	// for the action name.
	ErrNoPluginMatch = errors.New("no plugin matches action")
)
