package session

import "github.com/pkg/errors"

// Причины, которые уходят наблюдателю в событии "error".
const (
	ReasonAlreadyRegistered = "User Already Registered"
	ReasonNotRegistered     = "no session in progress"
	ReasonCallInProgress    = "error: call is in progress"
	ReasonNoCallInProgress  = " no call is in progress"
	ReasonNoCallToAnswer    = "no call to answer"
)

var (
	// ErrAlreadyRegistered сессия уже активна
	ErrAlreadyRegistered = errors.New("session: already registered")
	// ErrNotRegistered нет активной сессии
	ErrNotRegistered = errors.New("session: no session in progress")
	// ErrCallInProgress вызов уже идет
	ErrCallInProgress = errors.New("session: call is in progress")
	// ErrNoCallInProgress нет активного вызова
	ErrNoCallInProgress = errors.New("session: no call is in progress")
	// ErrNoEligibleCall нет вызова, допускающего операцию
	ErrNoEligibleCall = errors.New("session: no eligible call")
	// ErrNoDevice движок не предоставил активное устройство
	ErrNoDevice = errors.New("session: no active device")
	// ErrRegistrationAborted сессию сняли, пока движок запускался
	ErrRegistrationAborted = errors.New("session: registration aborted")
	// ErrClosed контроллер закрыт
	ErrClosed = errors.New("session: controller closed")
)
