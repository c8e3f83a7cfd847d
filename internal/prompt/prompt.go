// Package prompt holds the stage prompt templates. One template per
// stage; the annotation, generation and structural payloads are
// interpolated with the target DBMS name and version from the
// configuration, the repair templates are not.
package prompt

import "fmt"

// Annotation instructs the model to annotate mutable tokens in a SQL
// test case with typed masks. Constants are mandatory; operators,
// functions and keywords are annotated where replacing them keeps the
// statement executable.
func Annotation(sql, dbms, version string) string {
	return fmt.Sprintf(`Instruction: You are a DBMS fuzz testing expert. Your task is to identify and annotate the mutable tokens in the given SQL test case one by one.

### Annotation Format
Each token is annotated as one of:
[CONSTANT, number:X, type:<type>, ori:<original_value>]
[OPERATOR, number:X, category:<category>, ori:<original_operator>]
[FUNCTION, number:X, category:<category>, ori:<original_function>]
[KEYWORD, number:X, context:<context>, ori:<original_keyword>]

Where:
- number:X is the index of the mask in this test case, starting from 1 and increasing sequentially across all statements without resetting or duplication.
- type / category / context is the specific role recognized in the target DBMS (e.g., smallint(4), char, enum_storage_engine, geometry_text, sql_text, comparison, aggregate, column_type). Do not use generic or vague labels.
- ori is the literal value of the token in the original SQL.

### Rules and Requirements
1. Constants MUST all be annotated: strings, numbers, date/time values, enum values, and text literals. Never annotate table names, column names, or aliases as constants.
2. Operators, functions, and keywords MAY additionally be annotated when an in-context replacement would keep the SQL executable.
3. The annotations are used for fuzzing mutation. After replacing each mask with a new value of the annotated type, the SQL must still be syntactically valid and executable.
4. The final annotated SQL must be wrapped in a single fenced block:
`+"```sql"+`
(result)
`+"```"+`
Do not wrap explanations or other text in code blocks; the result must be a single complete SQL output, easily extractable.

### Example
Input:
`+"```sql"+`
SET default_storage_engine=ARCHIVE;
CREATE TABLE t1 ( Period smallint(4) unsigned zerofill DEFAULT '0000' NOT NULL ) ENGINE=archive;
INSERT INTO t1 VALUES (9410);
`+"```"+`
Output:
`+"```sql"+`
SET default_storage_engine=[CONSTANT, number:1, type:enum_storage_engine, ori:ARCHIVE];
CREATE TABLE t1 ( Period smallint(4) unsigned zerofill DEFAULT [CONSTANT, number:2, type:char, ori:0000] NOT NULL ) ENGINE=[CONSTANT, number:3, type:enum_storage_engine, ori:archive];
INSERT INTO t1 VALUES ([CONSTANT, number:4, type:smallint(4), ori:9410]);
`+"```"+`

Now, please annotate the following SQL statement, which is used to test %s version %s:
`+"```sql"+`
%s
`+"```"+`
`, dbms, version, sql)
}

// MutatorGeneration instructs the model to produce the mutator artifact:
// an import-safe Python module exposing mutate() -> str.
func MutatorGeneration(annotated, dbms, version string) string {
	return fmt.Sprintf(`Instruction: You are a DBMS fuzzing and SQL mutation expert. The input below is a test case annotated with mutation masks. Your job is to produce a Python module that is import-safe and exposes a single callable mutation interface:

    mutate() -> str

Important module constraints (must be obeyed):
- The produced Python code must be importable without side effects. Do NOT include any top-level executable code such as 'if __name__ == "__main__":', command-line parsing, or code that runs on import.
- Do NOT print to stdout, write files, or perform network I/O. The module must be pure (it may use module-level constants or helper functions).
- mutate() must accept no required arguments and must return a single str containing one fully mutated, executable SQL test case (possibly many statements separated by ';') with no masks remaining.
- Use Python 3.12 and only standard library modules.

Target test case (for testing %s version %s):
%s

Mask formats appearing in the input:
[CONSTANT, number:<n>, type:<type>, ori:<original_value>]
[OPERATOR, number:<n>, category:<category>, ori:<original_operator>]
[FUNCTION, number:<n>, category:<category>, ori:<original_function>]
[KEYWORD, number:<n>, context:<context>, ori:<original_keyword>]

Task & Requirements:
1. Parsing: parse every mask and capture its number, typing tag, ori, and the token's SQL context (INSERT value, WHERE predicate, LIMIT, function argument, comparison, etc.). Do not change schema identifiers; only replace masks with concrete values.
2. Mutation candidates: for each mask produce at least 8 diverse, context-aware candidates based on the annotated tag, ori, and SQL position. Categories should include boundary values, out-of-range, negatives, zero, NULL (only when valid in context), empty string, very long strings, escaped injection-like payloads that keep the SQL syntactically valid, malformed dates, floating-point edge cases, binary/hex values where appropriate, LIKE patterns, type-conversion triggers, and semantic special values (MAX_INT, MIN_INT).
3. mutate() behavior: each call must randomly select at least one mask to replace with a non-ori candidate; masks not selected must be replaced by their ori value (no masks left). The returned SQL must be syntactically valid for the annotated types (numbers unquoted, strings quoted and escaped, dates parsable). Preserve original comments and statement separators. Ensure high variation across calls.
4. Implementation: only standard library (re, random, datetime, json, itertools, math, binascii). Provide a mutation-strategy factory that, given a mask's tag/ori/context, returns the candidate list and a random-variant generator. Raise a descriptive Exception if the input masks cannot be parsed; never fail silently.
5. Output format: provide only the Python module inside a single fenced code block labeled python:
`+"```python"+`
(entire module text here)
`+"```"+`
Any human-readable explanation must be outside the code block.

Now, produce the Python module that satisfies all the above constraints.
`, dbms, version, annotated)
}

// StructuralSystem primes the structural stage conversation.
const StructuralSystem = `You are an aggressive database security researcher and fuzzing expert specializing in crash discovery. You have deep knowledge of DBMS implementation bugs and historical CVEs, type system vulnerabilities and implicit conversion edge cases, query optimizer weaknesses, memory corruption patterns in SQL engines, concurrency and transaction isolation anomalies, and parser and lexer edge cases. Your generated SQL should be maximally complex and target crash-prone areas while staying executable.`

// StructuralRewrite instructs the model to rewrite a whole seed into a
// new, structurally different test case.
func StructuralRewrite(sql, dbms, version string) string {
	return fmt.Sprintf(`You are an expert in database fuzzing whose goal is to trigger crashes and bugs in %[1]s version %[2]s. Perform aggressive structural mutations on the provided SQL test case to maximize the likelihood of exposing vulnerabilities, edge cases, and crash-inducing behaviors.

PRIMARY OBJECTIVE: generate SQL that is highly likely to crash or trigger anomalous behavior, not just a syntactically correct variation.

MUTATION STRATEGIES (apply 3-5 of these):
1. Extreme complexity injection: deeply nested subqueries (5-10 levels), recursive CTEs with large recursion depths, stacked window functions (ROW_NUMBER, RANK, LAG, LEAD, NTILE), circular view dependencies, correlated subqueries in unexpected places.
2. Type confusion: implicit conversions between incompatible types, UNION with mismatched column types, aggregates over incompatible types, arithmetic mixing strings, numbers, dates, binaries and NULLs.
3. Boundary exploitation: INT_MAX/INT_MIN, 1e308, negative zero, empty strings, NULL bytes, unicode edge cases, division and modulo by zero, overflow-inducing arithmetic.
4. Advanced %[1]s features: obscure built-in and system functions, version-specific features, complex PARTITION BY / frame specifications, JSON operations with malformed input, full-text search edge cases, ROLLUP/CUBE/GROUPING SETS, collation and character-set mixing, cascading triggers, views referencing views, expression indexes, conflicting constraints.
5. Stored routines: user-defined functions with recursive calls, stored procedures with nested loops and exception handlers, cascading trigger chains.
6. Transaction edge cases: nested transactions, rollbacks to missing savepoints, DDL mixed with DML in transactions, conflicting lock types.
7. Schema manipulation: ALTER TABLE with incompatible type changes, DROP and CREATE of the same object in rapid succession, constraints conflicting with existing data.
8. Expression complexity: 10+ levels of CASE WHEN nesting, precedence-ambiguous boolean expressions, NULL-handling edge cases in concatenation, backtracking-heavy patterns.

CRITICAL CONSTRAINTS:
1. Keep operations fast (under one second); no actual infinite loops.
2. The generated SQL MUST be syntactically correct for %[1]s version %[2]s.
3. Output pure SQL only; no comments or explanations in the code block.
4. Each statement ends with ';'.

OUTPUT FORMAT — return only the mutated SQL wrapped as:
`+"```sql"+`
(your mutated SQL here)
`+"```"+`

INPUT TEST CASE:
`+"```sql"+`
%[3]s
`+"```"+`

Now apply 3-5 mutation strategies to create a crash-inducing SQL test case for %[1]s version %[2]s.
`, dbms, version, sql)
}

// SyntaxRepair asks the model to fix an artifact that failed the static
// checker.
func SyntaxRepair(code, checkerOutput string) string {
	return fmt.Sprintf(`The following Python mutator module failed static checking. Fix the module so it compiles, while preserving its behavior and the mutate() -> str contract (import-safe, no side effects, no masks left in the output SQL).

Checker output:
%s

Module:
`+"```python"+`
%s
`+"```"+`

Return only the corrected module inside a single fenced code block labeled python.
`, checkerOutput, code)
}

// SemanticRepair asks the model to fix an artifact whose execution
// raised or produced invalid SQL.
func SemanticRepair(code, failure string) string {
	return fmt.Sprintf(`The following Python mutator module compiled but failed at execution time. Fix the module so that every call to mutate() returns one complete, syntactically valid SQL string with every mask replaced (each mask by its ori value or an in-context-typed candidate, at least one mask by a non-ori candidate), while keeping the module import-safe and side-effect free.

Failure:
%s

Module:
`+"```python"+`
%s
`+"```"+`

Return only the corrected module inside a single fenced code block labeled python.
`, failure, code)
}
