// Package formats reads source meshes for cloth blueprints.
//
// Wavefront OBJ is parsed in obj.go; grid.go generates flat rectangular
// cloths procedurally.
package formats
