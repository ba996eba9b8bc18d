package dtmf

// Digit представляет DTMF цифру. Нулевое значение (Invalid) означает
// отсутствие цифры, поэтому таблица преобразования может хранить его
// во всех неиспользуемых ячейках.
type Digit uint8

const (
	Invalid Digit = iota
	Digit0
	Digit1
	Digit2
	Digit3
	Digit4
	Digit5
	Digit6
	Digit7
	Digit8
	Digit9
	Star  // *
	Pound // #
	Plus  // +
	A
	B
	C
	D
)

// asciiTable индексируется ASCII кодом символа. Размер таблицы равен 'D'+1,
// все коды выше 'D' заведомо не являются DTMF символами.
var asciiTable = [int('D') + 1]Digit{
	'0': Digit0,
	'1': Digit1,
	'2': Digit2,
	'3': Digit3,
	'4': Digit4,
	'5': Digit5,
	'6': Digit6,
	'7': Digit7,
	'8': Digit8,
	'9': Digit9,
	'*': Star,
	'#': Pound,
	'+': Plus,
	'A': A,
	'B': B,
	'C': C,
	'D': D,
}

var digitASCII = [...]byte{
	Invalid: 0,
	Digit0:  '0',
	Digit1:  '1',
	Digit2:  '2',
	Digit3:  '3',
	Digit4:  '4',
	Digit5:  '5',
	Digit6:  '6',
	Digit7:  '7',
	Digit8:  '8',
	Digit9:  '9',
	Star:    '*',
	Pound:   '#',
	Plus:    '+',
	A:       'A',
	B:       'B',
	C:       'C',
	D:       'D',
}

// FromASCII преобразует ASCII символ в DTMF цифру.
// Функция определена для любого байта: для всего, что не входит в
// набор 0-9 * # + A-D, возвращается (Invalid, false).
func FromASCII(c byte) (Digit, bool) {
	if int(c) >= len(asciiTable) {
		return Invalid, false
	}
	d := asciiTable[c]
	return d, d != Invalid
}

// ASCII возвращает печатный символ цифры или 0 для Invalid.
func (d Digit) ASCII() byte {
	if int(d) >= len(digitASCII) {
		return 0
	}
	return digitASCII[d]
}

// Valid сообщает, является ли значение допустимой DTMF цифрой.
func (d Digit) Valid() bool {
	return d != Invalid && int(d) < len(digitASCII)
}

func (d Digit) String() string {
	if !d.Valid() {
		return "?"
	}
	return string(d.ASCII())
}

// Event возвращает код события RFC 4733 (0-15).
// Для '+' телефонного события не существует, поэтому возвращается false.
func (d Digit) Event() (uint8, bool) {
	switch {
	case d >= Digit0 && d <= Digit9:
		return uint8(d - Digit0), true
	case d == Star:
		return 10, true
	case d == Pound:
		return 11, true
	case d >= A && d <= D:
		return 12 + uint8(d-A), true
	default:
		return 0, false
	}
}

// FromEvent выполняет обратное преобразование кода RFC 4733 в цифру.
func FromEvent(code uint8) (Digit, bool) {
	switch {
	case code <= 9:
		return Digit0 + Digit(code), true
	case code == 10:
		return Star, true
	case code == 11:
		return Pound, true
	case code <= 15:
		return A + Digit(code-12), true
	default:
		return Invalid, false
	}
}

// Parse разбирает строку посимвольно. Допустимые символы возвращаются
// в порядке следования, недопустимые собираются отдельно и не прерывают разбор.
func Parse(text string) (digits []Digit, skipped []byte) {
	for i := 0; i < len(text); i++ {
		if d, ok := FromASCII(text[i]); ok {
			digits = append(digits, d)
		} else {
			skipped = append(skipped, text[i])
		}
	}
	return digits, skipped
}
