package models

// Operator compares an observed metric against a threshold.
type Operator string

const (
	OperatorGreater      Operator = ">"
	OperatorLess         Operator = "<"
	OperatorEqual        Operator = "="
	OperatorGreaterEqual Operator = ">="
	OperatorLessEqual    Operator = "<="
	OperatorNotEqual     Operator = "!="
)

func (o Operator) IsValid() bool {
	switch o {
	case OperatorGreater, OperatorLess, OperatorEqual, OperatorGreaterEqual, OperatorLessEqual, OperatorNotEqual:
		return true
	}

	return false
}

// Compare reports whether observed satisfies the operator against threshold.
func (o Operator) Compare(observed, threshold float64) bool {
	switch o {
	case OperatorGreater:
		return observed > threshold
	case OperatorLess:
		return observed < threshold
	case OperatorEqual:
		return observed == threshold
	case OperatorGreaterEqual:
		return observed >= threshold
	case OperatorLessEqual:
		return observed <= threshold
	case OperatorNotEqual:
		return observed != threshold
	default:
		return false
	}
}
