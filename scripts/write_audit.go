// Command write_audit reports repository writes made by service methods and
// whether each happens inside an aggregates.ExecuteWrite transaction.
//
//	go run ./scripts [-strict] [root]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type writeCall struct {
	Repo    string `json:"repo"`
	Method  string `json:"method"`
	Line    int    `json:"line"`
	Guarded bool   `json:"guarded"`
}

type methodReport struct {
	Package string      `json:"package"`
	Struct  string      `json:"struct"`
	Method  string      `json:"method"`
	File    string      `json:"file"`
	Line    int         `json:"line"`
	Writes  []writeCall `json:"writes"`
}

type auditReport struct {
	GuardedWrites   int            `json:"guarded_writes"`
	UnguardedWrites int            `json:"unguarded_writes"`
	Methods         []methodReport `json:"methods"`
	Unguarded       []methodReport `json:"unguarded"`
}

// writePrefixes name repository methods that mutate rows.
var writePrefixes = []string{
	"Create", "Update", "Upsert", "Delete", "SoftDelete", "Set", "Mark", "Insert",
	"Claim", "Record", "Register", "Grant", "Increment", "Release", "Revoke",
	"Consume", "Complete", "Append", "Restore", "Enqueue",
}

func isWrite(method string) bool {
	for _, p := range writePrefixes {
		if strings.HasPrefix(method, p) {
			return true
		}
	}
	return false
}

func main() {
	strict := flag.Bool("strict", false, "exit 1 when a write happens outside ExecuteWrite")
	flag.Parse()
	root := "."
	if flag.NArg() > 0 {
		root = flag.Arg(0)
	}

	report, err := audit(filepath.Join(root, "internal", "services"), root)
	if err != nil {
		exitf("audit: %v", err)
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		exitf("marshal report: %v", err)
	}
	fmt.Println(string(out))
	if *strict && report.UnguardedWrites > 0 {
		os.Exit(1)
	}
}

func audit(servicesDir, root string) (auditReport, error) {
	var report auditReport
	fset := token.NewFileSet()
	err := filepath.WalkDir(servicesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			return nil
		}
		f, err := parser.ParseFile(fset, path, nil, 0)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		report.Methods = append(report.Methods, auditFile(fset, f, filepath.ToSlash(rel))...)
		return nil
	})
	if err != nil {
		return auditReport{}, err
	}

	sort.Slice(report.Methods, func(i, j int) bool {
		if report.Methods[i].File == report.Methods[j].File {
			return report.Methods[i].Line < report.Methods[j].Line
		}
		return report.Methods[i].File < report.Methods[j].File
	})
	for _, m := range report.Methods {
		unguarded := false
		for _, w := range m.Writes {
			if w.Guarded {
				report.GuardedWrites++
			} else {
				report.UnguardedWrites++
				unguarded = true
			}
		}
		if unguarded {
			report.Unguarded = append(report.Unguarded, m)
		}
	}
	return report, nil
}

// auditFile inspects methods of structs holding a repos.Set field and
// records calls shaped like recv.<set>.<Repo>.<Write>(...).
func auditFile(fset *token.FileSet, file *ast.File, relFile string) []methodReport {
	setFields := repoSetFields(file)
	var out []methodReport
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Recv == nil || fd.Body == nil || len(fd.Recv.List) == 0 {
			continue
		}
		recvName, recvType := recvInfo(fd.Recv.List[0])
		if recvName == "" {
			continue
		}
		m := methodReport{
			Package: file.Name.Name,
			Struct:  recvType,
			Method:  fd.Name.Name,
			File:    relFile,
			Line:    fset.Position(fd.Pos()).Line,
		}
		walk(fd.Body, false, func(call *ast.CallExpr, guarded bool) {
			repo, method, ok := repoCall(call, recvName, setFields[recvType])
			if !ok || !isWrite(method) {
				return
			}
			m.Writes = append(m.Writes, writeCall{
				Repo:    repo,
				Method:  method,
				Line:    fset.Position(call.Pos()).Line,
				Guarded: guarded,
			})
		})
		if len(m.Writes) > 0 {
			out = append(out, m)
		}
	}
	return out
}

// walk visits every call, tracking whether it sits inside a function literal
// passed to ExecuteWrite.
func walk(n ast.Node, guarded bool, visit func(*ast.CallExpr, bool)) {
	ast.Inspect(n, func(node ast.Node) bool {
		call, ok := node.(*ast.CallExpr)
		if !ok {
			return true
		}
		visit(call, guarded)
		if !guarded && isExecuteWrite(call) {
			walk(call.Fun, false, visit)
			for _, arg := range call.Args {
				_, lit := arg.(*ast.FuncLit)
				walk(arg, lit, visit)
			}
			return false
		}
		return true
	})
}

func isExecuteWrite(call *ast.CallExpr) bool {
	switch fn := call.Fun.(type) {
	case *ast.SelectorExpr:
		return fn.Sel.Name == "ExecuteWrite"
	case *ast.Ident:
		return fn.Name == "ExecuteWrite"
	}
	return false
}

func repoCall(call *ast.CallExpr, recvName string, setField string) (repo, method string, ok bool) {
	if setField == "" {
		return "", "", false
	}
	fnSel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return "", "", false
	}
	repoSel, ok := fnSel.X.(*ast.SelectorExpr)
	if !ok {
		return "", "", false
	}
	setSel, ok := repoSel.X.(*ast.SelectorExpr)
	if !ok || setSel.Sel.Name != setField {
		return "", "", false
	}
	base, ok := setSel.X.(*ast.Ident)
	if !ok || base.Name != recvName {
		return "", "", false
	}
	return repoSel.Sel.Name, fnSel.Sel.Name, true
}

// repoSetFields maps struct name to the name of its repos.Set field.
func repoSetFields(file *ast.File) map[string]string {
	out := map[string]string{}
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, spec := range gd.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			st, ok := ts.Type.(*ast.StructType)
			if !ok || st.Fields == nil {
				continue
			}
			for _, field := range st.Fields.List {
				sel, ok := field.Type.(*ast.SelectorExpr)
				if !ok || len(field.Names) == 0 {
					continue
				}
				if pkg, ok := sel.X.(*ast.Ident); ok && pkg.Name == "repos" && sel.Sel.Name == "Set" {
					out[ts.Name.Name] = field.Names[0].Name
				}
			}
		}
	}
	return out
}

func recvInfo(field *ast.Field) (string, string) {
	if field == nil || len(field.Names) == 0 {
		return "", ""
	}
	recvName := field.Names[0].Name
	switch t := field.Type.(type) {
	case *ast.StarExpr:
		if id, ok := t.X.(*ast.Ident); ok {
			return recvName, id.Name
		}
	case *ast.Ident:
		return recvName, t.Name
	}
	return "", ""
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
