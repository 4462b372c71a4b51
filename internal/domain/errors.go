package domain

import (
	"errors"
	"fmt"
)

// ErrorKind категория ошибки захвата
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindPermissionDenied
	KindDeviceNotFound
	KindHardwareBusy
	KindConstraintsUnsatisfiable
	KindEncoderUnsupported
	KindEncoderFailure
	KindEmptyCapture
	KindConversionFailure
	KindSubmissionFailure
	KindPlaybackDecodeFailure
	KindInvalidState
)

var kindNames = map[ErrorKind]string{
	KindOther:                    "other",
	KindPermissionDenied:         "permission-denied",
	KindDeviceNotFound:           "device-not-found",
	KindHardwareBusy:             "hardware-busy",
	KindConstraintsUnsatisfiable: "constraints-unsatisfiable",
	KindEncoderUnsupported:       "encoder-unsupported",
	KindEncoderFailure:           "encoder-failure",
	KindEmptyCapture:             "empty-capture",
	KindConversionFailure:        "conversion-failure",
	KindSubmissionFailure:        "submission-failure",
	KindPlaybackDecodeFailure:    "playback-decode-failure",
	KindInvalidState:             "invalid-state",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Сообщения для пользователя по категориям ошибок
var kindMessages = map[ErrorKind]string{
	KindOther:                    "Непредвиденная ошибка захвата",
	KindPermissionDenied:         "Доступ к камере или микрофону запрещен. Разрешите доступ и повторите попытку",
	KindDeviceNotFound:           "Камера или микрофон не найдены. Подключите устройство и повторите попытку",
	KindHardwareBusy:             "Камера уже используется другим приложением",
	KindConstraintsUnsatisfiable: "Выбранная камера не поддерживает запрошенные настройки качества",
	KindEncoderUnsupported:       "Нет поддерживаемого кодировщика видео",
	KindEncoderFailure:           "Сбой кодировщика видео во время записи",
	KindEmptyCapture:             "Видеоданные не были записаны",
	KindConversionFailure:        "Не удалось подготовить запись к отправке",
	KindSubmissionFailure:        "Не удалось отправить снимок или видео",
	KindPlaybackDecodeFailure:    "Не удалось декодировать запись для снимка экрана",
	KindInvalidState:             "Операция сейчас недоступна",
}

// CaptureError ошибка конвейера захвата с категорией
type CaptureError struct {
	Kind ErrorKind
	Op   string // Операция, в которой произошла ошибка
	Msg  string // Уточненное сообщение, если пусто используется стандартное
	Err  error
}

// NewError создает ошибку заданной категории
func NewError(kind ErrorKind, op string, err error) *CaptureError {
	return &CaptureError{Kind: kind, Op: op, Err: err}
}

// Errorf создает ошибку с уточненным сообщением
func Errorf(kind ErrorKind, op, format string, args ...interface{}) *CaptureError {
	return &CaptureError{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func (e *CaptureError) Error() string {
	msg := e.Message()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Message сообщение для показа пользователю
func (e *CaptureError) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	return kindMessages[e.Kind]
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Is сравнивает ошибки по категории, что позволяет писать
// errors.Is(err, &CaptureError{Kind: KindEmptyCapture})
func (e *CaptureError) Is(target error) bool {
	t, ok := target.(*CaptureError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf возвращает категорию ошибки, KindOther для посторонних ошибок
func KindOf(err error) ErrorKind {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindOther
}

// IsKind сообщает, относится ли ошибка к категории
func IsKind(err error, kind ErrorKind) bool {
	var ce *CaptureError
	return errors.As(err, &ce) && ce.Kind == kind
}

// UserMessage возвращает текст ошибки для пользователя
func UserMessage(err error) string {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Message()
	}
	return err.Error()
}
