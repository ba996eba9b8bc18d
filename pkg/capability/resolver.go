// Package capability выбирает вызов устройства, к которому применяется операция.
//
// Поиск идет по снимку Device.Info().Calls строго в порядке создания
// вызовов. Отсутствие любого уровня (устройство, снимок, список, вызов,
// снимок вызова) означает "нет совпадения" и никогда не является ошибкой.
// Снимок может устареть к моменту выполнения операции, поэтому сама
// операция обязана корректно обрабатывать исчезнувший вызов.
package capability

import (
	"reflect"

	"github.com/arzzra/callcontrol/pkg/ccapi"
)

// FirstWithCapability возвращает первый вызов, допускающий операцию c.
func FirstWithCapability(dev ccapi.Device, c ccapi.Capability) ccapi.Call {
	return firstMatching(dev, func(info *ccapi.CallInfo) bool {
		return info.HasCapability(c)
	})
}

// FirstInState возвращает первый вызов в состоянии st.
func FirstInState(dev ccapi.Device, st ccapi.CallState) ccapi.Call {
	return firstMatching(dev, func(info *ccapi.CallInfo) bool {
		return info.State == st
	})
}

// FirstInAnyState возвращает первый вызов, состояние которого входит в states.
// Порядок states не влияет на результат: важен только порядок вызовов.
func FirstInAnyState(dev ccapi.Device, states ...ccapi.CallState) ccapi.Call {
	if len(states) == 0 {
		return nil
	}
	return firstMatching(dev, func(info *ccapi.CallInfo) bool {
		for _, st := range states {
			if info.State == st {
				return true
			}
		}
		return false
	})
}

func firstMatching(dev ccapi.Device, match func(*ccapi.CallInfo) bool) ccapi.Call {
	if isNil(dev) {
		return nil
	}
	info := dev.Info()
	if info == nil {
		return nil
	}
	for _, call := range info.Calls {
		if isNil(call) {
			continue
		}
		ci := call.Info()
		if ci == nil {
			continue
		}
		if match(ci) {
			return call
		}
	}
	return nil
}

// isNil ловит типизированный nil, завернутый в интерфейс.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
