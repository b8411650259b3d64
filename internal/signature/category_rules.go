package signature

// BuiltinCategorySpecs 内置敏感API类别特征库
// 符号模式针对 jadx 输出的 Java 源码和 apktool 输出的 smali 文本
func BuiltinCategorySpecs() []CategorySpec {
	return []CategorySpec{
		{
			Category: CategoryRootDetection,
			Patterns: []string{
				`/system/(x?bin|app)/su\b`,
				`Superuser\.apk`,
				`eu\.chainfire\.supersu`,
				`com\.noshufou\.android\.su`,
				`test-keys`,
				`RootBeer`,
			},
			Tier:            TierSimple,
			SuggestedAction: "短路检测逻辑，使其始终返回未Root",
			HookSuggestion:  "Hook检测方法拦截返回值，强制返回false",
		},
		{
			Category: CategorySignatureVerify,
			Patterns: []string{
				`getPackageInfo\([^)]*GET_SIGNATURES`,
				`GET_SIGNING_CERTIFICATES`,
				`checkSignatures`,
				`CertificatePinner`,
				`X509TrustManager`,
				`HostnameVerifier`,
			},
			Tier:            TierMedium,
			SuggestedAction: "绕过签名校验/SSL Pinning，替换校验结果为成功",
			HookSuggestion:  "Hook校验方法短路为成功，或替换TrustManager为全信任实现",
		},
		{
			Category: CategoryNetwork,
			Patterns: []string{
				`https?://[\w./-]+`,
				`HttpURLConnection`,
				`OkHttpClient`,
				`Retrofit\.Builder`,
				`\bnew\s+Socket\(`,
			},
			Tier:            TierSimple,
			SuggestedAction: "替换API地址或重定向请求参数",
			HookSuggestion:  "Hook请求构造方法重定向URL参数",
		},
		{
			Category: CategoryCrypto,
			Patterns: []string{
				`Cipher\.getInstance`,
				`MessageDigest\.getInstance`,
				`SecretKeySpec`,
				`KeyGenerator\.getInstance`,
			},
			Tier:            TierMedium,
			SuggestedAction: "拦截加解密入参与返回值，还原明文数据",
			HookSuggestion:  "Hook doFinal拦截输入输出，dump密钥与明文",
		},
		{
			Category: CategoryDynamicLoading,
			Patterns: []string{
				`DexClassLoader`,
				`PathClassLoader`,
				`InMemoryDexClassLoader`,
				`loadDex\(`,
			},
			Tier:            TierMedium,
			SuggestedAction: "拦截动态加载的DEX路径，dump解密后的代码",
			HookSuggestion:  "Hook ClassLoader构造函数记录并复制被加载的DEX",
		},
		{
			Category: CategoryReflection,
			Patterns: []string{
				`Class\.forName`,
				`getDeclaredMethod`,
				`Method\.invoke|\.invoke\(`,
			},
			Tier:            TierMedium,
			SuggestedAction: "记录反射目标，还原被隐藏的调用关系",
			HookSuggestion:  "Hook Method.invoke记录目标类与方法名",
		},
		{
			Category: CategoryNativeCall,
			Patterns: []string{
				`System\.loadLibrary`,
				`System\.load\(`,
				`\bnative\s+\w+\s+\w+\(`,
			},
			Tier:            TierMedium,
			SuggestedAction: "定位JNI注册函数，在Native层继续分析",
			HookSuggestion:  "Hook JNI_OnLoad与RegisterNatives记录注册的Native方法",
		},
		{
			Category: CategoryDatabase,
			Patterns: []string{
				`SQLiteDatabase`,
				`rawQuery\(`,
				`execSQL\(`,
				`getWritableDatabase`,
			},
			Tier:            TierSimple,
			SuggestedAction: "拦截SQL语句，观察本地数据读写",
			HookSuggestion:  "Hook execSQL/rawQuery拦截SQL入参",
		},
		{
			Category: CategoryPreferences,
			Patterns: []string{
				`getSharedPreferences`,
				`SharedPreferences\.Editor`,
				`putString\(`,
			},
			Tier:            TierSimple,
			SuggestedAction: "替换配置项的值，观察开关型逻辑",
			HookSuggestion:  "Hook getString/getBoolean拦截配置读取并替换返回值",
		},
		{
			Category: CategoryFileIO,
			Patterns: []string{
				`FileInputStream`,
				`FileOutputStream`,
				`openFileOutput`,
				`getExternalStorageDirectory`,
			},
			Tier:            TierMedium,
			SuggestedAction: "拦截文件路径，观察落地文件内容",
			HookSuggestion:  "Hook文件流构造函数记录访问路径",
		},
	}
}
