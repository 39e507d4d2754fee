// Copyright (c) 2016, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

package syntax

// RedirOperator is the set of redirection operators.
type RedirOperator uint32

const (
	RdrIn    RedirOperator = iota + 1 // <
	RdrOut                            // >
	AppOut                            // >>
	RdrAll                            // &>
	AppAll                            // &>>
	DplIn                             // <&
	DplOut                            // >&
	Hdoc                              // <<
	DashHdoc                          // <<-
	WordHdoc                          // <<<
	RdrInOut                          // <>
)

// BinCmdOperator is the set of binary operators between two statements.
type BinCmdOperator uint32

const (
	AndStmt BinCmdOperator = iota + 1 // &&
	OrStmt                            // ||
	Pipe                              // |
	PipeAll                           // |&
)

// CaseOperator is the set of operators that can end a case clause item.
type CaseOperator uint32

const (
	Break       CaseOperator = iota + 1 // ;;
	Fallthrough                         // ;&
	Resume                              // ;;&
)

// ParNamesOperator is the set of ${!prefix*} style operators.
type ParNamesOperator uint32

const (
	NamesPrefix      ParNamesOperator = iota + 1 // ${!prefix*}
	NamesPrefixWords                             // ${!prefix@}
)

// ParExpOperator is the set of parameter expansion operators other than
// slicing, replacing, and the names operators above.
type ParExpOperator uint32

const (
	AlternateUnset       ParExpOperator = iota + 1 // +
	AlternateUnsetOrNull                           // :+
	DefaultUnset                                   // -
	DefaultUnsetOrNull                             // :-
	ErrorUnset                                     // ?
	ErrorUnsetOrNull                               // :?
	AssignUnset                                    // =
	AssignUnsetOrNull                              // :=
	RemSmallSuffix                                 // %
	RemLargeSuffix                                 // %%
	RemSmallPrefix                                 // #
	RemLargePrefix                                 // ##
	UpperFirst                                     // ^
	UpperAll                                       // ^^
	LowerFirst                                     // ,
	LowerAll                                       // ,,
	OtherParamOps                                  // @
)

// UnAritOperator is the set of unary arithmetic operators.
type UnAritOperator uint32

const (
	Not         UnAritOperator = iota + 1 // !
	BitNegation                           // ~
	Inc                                   // ++
	Dec                                   // --
	Plus                                  // +
	Minus                                 // -
)

// BinAritOperator is the set of binary arithmetic operators.
type BinAritOperator uint32

const (
	Add BinAritOperator = iota + 1 // +
	Sub                            // -
	Mul                            // *
	Quo                            // /
	Rem                            // %
	Pow                            // **
	Eql                            // ==
	Gtr                            // >
	Lss                            // <
	Neq                            // !=
	Leq                            // <=
	Geq                            // >=
	And                            // &
	Or                             // |
	Xor                            // ^
	Shr                            // >>
	Shl                            // <<

	AndArit   // &&
	OrArit    // ||
	Comma     // ,
	TernQuest // ?
	TernColon // :

	Assgn    // =
	AddAssgn // +=
	SubAssgn // -=
	MulAssgn // *=
	QuoAssgn // /=
	RemAssgn // %=
	AndAssgn // &=
	OrAssgn  // |=
	XorAssgn // ^=
	ShlAssgn // <<=
	ShrAssgn // >>=
)

// UnTestOperator is the set of unary test operators.
type UnTestOperator uint32

const (
	TsExists  UnTestOperator = iota + 1 // -e
	TsRegFile                           // -f
	TsDirect                            // -d
	TsNoEmpty                           // -s
	TsSmbLink                           // -L
	TsRead                              // -r
	TsWrite                             // -w
	TsExec                              // -x
	TsEmpStr                            // -z
	TsNempStr                           // -n
	TsVarSet                            // -v
	TsNot                               // !
)

// BinTestOperator is the set of binary test operators.
type BinTestOperator uint32

const (
	TsMatch   BinTestOperator = iota + 1 // == or =
	TsNoMatch                            // !=
	TsMatchRe                            // =~
	TsNewer                              // -nt
	TsOlder                              // -ot
	TsEql                                // -eq
	TsNeq                                // -ne
	TsLeq                                // -le
	TsGeq                                // -ge
	TsLss                                // -lt
	TsGtr                                // -gt
	AndTest                              // &&
	OrTest                               // ||
	TsBefore                             // <
	TsAfter                              // >
)

var (
	redirNames = [...]string{
		RdrIn: "<", RdrOut: ">", AppOut: ">>", RdrAll: "&>", AppAll: "&>>",
		DplIn: "<&", DplOut: ">&", Hdoc: "<<", DashHdoc: "<<-",
		WordHdoc: "<<<", RdrInOut: "<>",
	}
	binCmdNames = [...]string{
		AndStmt: "&&", OrStmt: "||", Pipe: "|", PipeAll: "|&",
	}
	caseNames = [...]string{
		Break: ";;", Fallthrough: ";&", Resume: ";;&",
	}
	parNamesNames = [...]string{
		NamesPrefix: "*", NamesPrefixWords: "@",
	}
	parExpNames = [...]string{
		AlternateUnset: "+", AlternateUnsetOrNull: ":+",
		DefaultUnset: "-", DefaultUnsetOrNull: ":-",
		ErrorUnset: "?", ErrorUnsetOrNull: ":?",
		AssignUnset: "=", AssignUnsetOrNull: ":=",
		RemSmallSuffix: "%", RemLargeSuffix: "%%",
		RemSmallPrefix: "#", RemLargePrefix: "##",
		UpperFirst: "^", UpperAll: "^^",
		LowerFirst: ",", LowerAll: ",,",
		OtherParamOps: "@",
	}
	unAritNames = [...]string{
		Not: "!", BitNegation: "~", Inc: "++", Dec: "--",
		Plus: "+", Minus: "-",
	}
	binAritNames = [...]string{
		Add: "+", Sub: "-", Mul: "*", Quo: "/", Rem: "%", Pow: "**",
		Eql: "==", Gtr: ">", Lss: "<", Neq: "!=", Leq: "<=", Geq: ">=",
		And: "&", Or: "|", Xor: "^", Shr: ">>", Shl: "<<",
		AndArit: "&&", OrArit: "||", Comma: ",",
		TernQuest: "?", TernColon: ":",
		Assgn: "=", AddAssgn: "+=", SubAssgn: "-=", MulAssgn: "*=",
		QuoAssgn: "/=", RemAssgn: "%=", AndAssgn: "&=", OrAssgn: "|=",
		XorAssgn: "^=", ShlAssgn: "<<=", ShrAssgn: ">>=",
	}
	unTestNames = [...]string{
		TsExists: "-e", TsRegFile: "-f", TsDirect: "-d", TsNoEmpty: "-s",
		TsSmbLink: "-L", TsRead: "-r", TsWrite: "-w", TsExec: "-x",
		TsEmpStr: "-z", TsNempStr: "-n", TsVarSet: "-v", TsNot: "!",
	}
	binTestNames = [...]string{
		TsMatch: "==", TsNoMatch: "!=", TsMatchRe: "=~",
		TsNewer: "-nt", TsOlder: "-ot",
		TsEql: "-eq", TsNeq: "-ne", TsLeq: "-le", TsGeq: "-ge",
		TsLss: "-lt", TsGtr: "-gt",
		AndTest: "&&", OrTest: "||", TsBefore: "<", TsAfter: ">",
	}
)

func (o RedirOperator) String() string    { return redirNames[o] }
func (o BinCmdOperator) String() string   { return binCmdNames[o] }
func (o CaseOperator) String() string     { return caseNames[o] }
func (o ParNamesOperator) String() string { return parNamesNames[o] }
func (o ParExpOperator) String() string   { return parExpNames[o] }
func (o UnAritOperator) String() string   { return unAritNames[o] }
func (o BinAritOperator) String() string  { return binAritNames[o] }
func (o UnTestOperator) String() string   { return unTestNames[o] }
func (o BinTestOperator) String() string  { return binTestNames[o] }

// IsKeyword returns whether the given word is a shell reserved word. Reserved
// words only have meaning at the start of a command, or after another
// reserved word that expects a command to follow.
func IsKeyword(word string) bool {
	switch word {
	case "if", "then", "elif", "else", "fi", "while", "until", "for",
		"in", "do", "done", "case", "esac", "function", "select",
		"{", "}", "!", "[[", "]]":
		return true
	}
	return false
}

// ValidName returns whether the given string is a valid variable or function
// name: a letter or underscore followed by letters, digits, or underscores.
func ValidName(val string) bool {
	if val == "" {
		return false
	}
	for i, r := range val {
		switch {
		case 'a' <= r && r <= 'z':
		case 'A' <= r && r <= 'Z':
		case r == '_':
		case i > 0 && '0' <= r && r <= '9':
		default:
			return false
		}
	}
	return true
}
