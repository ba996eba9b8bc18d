// Package dtmf преобразует печатные DTMF символы в цифры и обратно.
//
// Допустимые символы: 0-9, '*', '#', '+', 'A'-'D' (только заглавные).
// Преобразование выполняется по таблице фиксированного размера и
// никогда не паникует: любой байт либо отображается в цифру, либо
// признается недопустимым.
//
//	d, ok := dtmf.FromASCII('#')
//	if ok {
//		code, _ := d.Event() // 11, код события RFC 4733
//	}
package dtmf
